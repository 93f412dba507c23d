package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS observations (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	entity_id   TEXT NOT NULL,
	field       TEXT NOT NULL,
	value       JSONB NOT NULL,
	source_name TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS source_profiles (
	field            TEXT NOT NULL,
	source_name      TEXT NOT NULL,
	source_type      TEXT NOT NULL,
	observations     INTEGER NOT NULL,
	conflicts        INTEGER NOT NULL,
	conflict_rate    DOUBLE PRECISION NOT NULL,
	suggested_weight DOUBLE PRECISION NOT NULL,
	last_updated     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (field, source_name)
);

CREATE TABLE IF NOT EXISTS estimates (
	seq               BIGSERIAL PRIMARY KEY,
	id                TEXT NOT NULL UNIQUE,
	entity_id         TEXT NOT NULL,
	field             TEXT NOT NULL,
	point_estimate    DOUBLE PRECISION NOT NULL,
	low               DOUBLE PRECISION NOT NULL,
	high              DOUBLE PRECISION NOT NULL,
	value             JSONB,
	confidence        DOUBLE PRECISION NOT NULL,
	consistency_score DOUBLE PRECISION NOT NULL,
	source_quality    DOUBLE PRECISION NOT NULL,
	observation_count INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS weight_vectors (
	version    INTEGER PRIMARY KEY,
	weights    JSONB NOT NULL,
	origin     TEXT NOT NULL,
	adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tool_cache (
	key        TEXT PRIMARY KEY,
	tool_id    TEXT NOT NULL,
	payload    JSONB NOT NULL,
	cost_ms    BIGINT NOT NULL,
	ttl_ns     BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_entity_field ON observations(entity_id, field);
CREATE INDEX IF NOT EXISTS idx_observations_field ON observations(field);
CREATE INDEX IF NOT EXISTS idx_estimates_entity ON estimates(entity_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_tool_cache_expires_at ON tool_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	stampObservation(obs)
	valueJSON, err := encodeValue(obs.Value)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO observations (id, entity_id, field, value, source_name, observed_at, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		obs.ID, obs.EntityID, obs.Field, valueJSON, obs.SourceName, obs.ObservedAt.UTC(), obs.RecordedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert observation")
}

var observationColumns = []string{"id", "entity_id", "field", "value", "source_name", "observed_at", "recorded_at"}

// AppendObservations bulk-inserts observations with the COPY protocol.
// Insertion order follows the slice.
func (s *PostgresStore) AppendObservations(ctx context.Context, obs []*model.Observation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		stampObservation(o)
		valueJSON, err := encodeValue(o.Value)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{o.ID, o.EntityID, o.Field, valueJSON, o.SourceName, o.ObservedAt.UTC(), o.RecordedAt.UTC()})
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"observations"}, observationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: COPY INTO observations")
	}
	return n, nil
}

func (s *PostgresStore) ListObservations(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error) {
	query := `SELECT id, entity_id, field, value, source_name, observed_at, recorded_at FROM observations WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EntityID != "" {
		query += ` AND entity_id = ` + arg(filter.EntityID)
	}
	if filter.Field != "" {
		query += ` AND field = ` + arg(filter.Field)
	}
	if filter.SourceName != "" {
		query += ` AND source_name = ` + arg(filter.SourceName)
	}
	if !filter.Since.IsZero() {
		query += ` AND observed_at >= ` + arg(filter.Since.UTC())
	}
	query += ` ORDER BY seq`
	if filter.NewestFirst {
		query += ` DESC`
	}
	if filter.Limit >= 0 {
		query += ` LIMIT ` + arg(listLimit(filter.Limit))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list observations")
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var valueJSON []byte
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Field, &valueJSON, &o.SourceName, &o.ObservedAt, &o.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		if o.Value, err = decodeValue(valueJSON); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list observations iterate")
}

func (s *PostgresStore) HistoryAggregates(ctx context.Context, outcomeField string) (*model.HistoryAggregates, error) {
	agg := &model.HistoryAggregates{OutcomeField: outcomeField}

	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM observations),
			COUNT(*),
			COALESCE(AVG((value #>> '{}')::float8), 0)
		 FROM observations WHERE field = $1 AND jsonb_typeof(value) = 'number'`,
		outcomeField,
	).Scan(&agg.TotalObservations, &agg.OutcomeSamples, &agg.MeanValue)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate history")
	}
	return agg, nil
}

func (s *PostgresStore) ReplaceSourceProfiles(ctx context.Context, field string, profiles []model.SourceProfile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace profiles")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM source_profiles WHERE field = $1`, field); err != nil {
		return eris.Wrapf(err, "postgres: clear profiles for %s", field)
	}
	for _, p := range profiles {
		_, err := tx.Exec(ctx,
			`INSERT INTO source_profiles (field, source_name, source_type, observations, conflicts, conflict_rate, suggested_weight, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			field, p.SourceName, p.SourceType, p.Observations, p.Conflicts, p.ConflictRate, p.SuggestedWeight, p.LastUpdated.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert profile %s/%s", field, p.SourceName)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace profiles")
}

func (s *PostgresStore) ListSourceProfiles(ctx context.Context, field string) ([]model.SourceProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, source_name, source_type, observations, conflicts, conflict_rate, suggested_weight, last_updated
		 FROM source_profiles WHERE field = $1
		 ORDER BY suggested_weight DESC, observations DESC, source_name ASC`,
		field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profiles")
	}
	defer rows.Close()

	var out []model.SourceProfile
	for rows.Next() {
		var p model.SourceProfile
		if err := rows.Scan(&p.Field, &p.SourceName, &p.SourceType, &p.Observations, &p.Conflicts, &p.ConflictRate, &p.SuggestedWeight, &p.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list profiles iterate")
}

func (s *PostgresStore) SaveEstimate(ctx context.Context, est *model.Estimate) error {
	if est.ID == "" {
		est.ID = uuid.New().String()
	}
	if est.CreatedAt.IsZero() {
		est.CreatedAt = time.Now().UTC()
	}
	var value []byte
	if est.Value != nil {
		b, err := encodeValue(est.Value)
		if err != nil {
			return err
		}
		value = b
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO estimates (id, entity_id, field, point_estimate, low, high, value, confidence, consistency_score, source_quality, observation_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		est.ID, est.EntityID, est.Field, est.PointEstimate, est.Low, est.High, value,
		est.Confidence, est.ConsistencyScore, est.SourceQuality, est.ObservationCount, est.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert estimate")
}

func (s *PostgresStore) ListEstimates(ctx context.Context, entityID string, limit int) ([]model.Estimate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, field, point_estimate, low, high, value, confidence, consistency_score, source_quality, observation_count, created_at
		 FROM estimates WHERE entity_id = $1 ORDER BY seq DESC LIMIT $2`,
		entityID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list estimates")
	}
	defer rows.Close()

	var out []model.Estimate
	for rows.Next() {
		var e model.Estimate
		var value []byte
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Field, &e.PointEstimate, &e.Low, &e.High, &value,
			&e.Confidence, &e.ConsistencyScore, &e.SourceQuality, &e.ObservationCount, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan estimate")
		}
		if e.Value, err = decodeValue(value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list estimates iterate")
}

func (s *PostgresStore) SaveWeightVector(ctx context.Context, wv *model.WeightVector) error {
	if wv.CreatedAt.IsZero() {
		wv.CreatedAt = time.Now().UTC()
	}
	weightsJSON, err := json.Marshal(wv.Weights)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal weights")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO weight_vectors (version, weights, origin, adjustment, created_at)
		 SELECT COALESCE(MAX(version), 0) + 1, $1, $2, $3, $4 FROM weight_vectors
		 RETURNING version`,
		weightsJSON, wv.Origin, wv.Adjustment, wv.CreatedAt.UTC(),
	).Scan(&wv.Version)
	return eris.Wrap(err, "postgres: insert weight vector")
}

func (s *PostgresStore) CurrentWeightVector(ctx context.Context) (*model.WeightVector, error) {
	var wv model.WeightVector
	var weightsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT version, weights, origin, adjustment, created_at FROM weight_vectors ORDER BY version DESC LIMIT 1`,
	).Scan(&wv.Version, &weightsJSON, &wv.Origin, &wv.Adjustment, &wv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current weight vector")
	}
	if err := json.Unmarshal(weightsJSON, &wv.Weights); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal weights")
	}
	return &wv, nil
}

func (s *PostgresStore) WeightHistory(ctx context.Context, limit int) ([]model.WeightVector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, weights, origin, adjustment, created_at FROM weight_vectors ORDER BY version DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list weight history")
	}
	defer rows.Close()

	var out []model.WeightVector
	for rows.Next() {
		var wv model.WeightVector
		var weightsJSON []byte
		if err := rows.Scan(&wv.Version, &weightsJSON, &wv.Origin, &wv.Adjustment, &wv.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weight vector")
		}
		if err := json.Unmarshal(weightsJSON, &wv.Weights); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal weights")
		}
		out = append(out, wv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: weight history iterate")
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var payload []byte
	var ttl int64

	err := s.pool.QueryRow(ctx,
		`SELECT key, tool_id, payload, cost_ms, ttl_ns, created_at, expires_at FROM tool_cache WHERE key = $1`,
		key,
	).Scan(&e.Key, &e.ToolID, &payload, &e.CostMs, &ttl, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	e.Payload = json.RawMessage(payload)
	e.TTL = time.Duration(ttl)
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_cache (key, tool_id, payload, cost_ms, ttl_ns, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET
			tool_id = EXCLUDED.tool_id,
			payload = EXCLUDED.payload,
			cost_ms = EXCLUDED.cost_ms,
			ttl_ns = EXCLUDED.ttl_ns,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		entry.Key, entry.ToolID, []byte(entry.Payload), entry.CostMs, int64(entry.TTL),
		entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tool_cache WHERE key = $1`, key)
	return eris.Wrap(err, "postgres: delete cache entry")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tool_cache WHERE expires_at <= $1 OR ttl_ns <= 0`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}
