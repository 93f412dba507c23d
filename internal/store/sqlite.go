package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/target-signal/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection; a single connection keeps them in
	// effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS observations (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	field       TEXT NOT NULL,
	value       TEXT NOT NULL,
	source_name TEXT NOT NULL,
	observed_at DATETIME NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS source_profiles (
	field            TEXT NOT NULL,
	source_name      TEXT NOT NULL,
	source_type      TEXT NOT NULL,
	observations     INTEGER NOT NULL,
	conflicts        INTEGER NOT NULL,
	conflict_rate    REAL NOT NULL,
	suggested_weight REAL NOT NULL,
	last_updated     DATETIME NOT NULL,
	PRIMARY KEY (field, source_name)
);

CREATE TABLE IF NOT EXISTS estimates (
	id                TEXT PRIMARY KEY,
	entity_id         TEXT NOT NULL,
	field             TEXT NOT NULL,
	point_estimate    REAL NOT NULL,
	low               REAL NOT NULL,
	high              REAL NOT NULL,
	value             TEXT,
	confidence        REAL NOT NULL,
	consistency_score REAL NOT NULL,
	source_quality    REAL NOT NULL,
	observation_count INTEGER NOT NULL,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS weight_vectors (
	version    INTEGER PRIMARY KEY,
	weights    TEXT NOT NULL,
	origin     TEXT NOT NULL,
	adjustment REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_cache (
	key           TEXT PRIMARY KEY,
	tool_id       TEXT NOT NULL,
	payload       TEXT NOT NULL,
	cost_ms       INTEGER NOT NULL,
	ttl_ns        INTEGER NOT NULL,
	created_at_ns INTEGER NOT NULL,
	expires_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_entity_field ON observations(entity_id, field);
CREATE INDEX IF NOT EXISTS idx_observations_field ON observations(field);
CREATE INDEX IF NOT EXISTS idx_estimates_entity ON estimates(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tool_cache_expires ON tool_cache(expires_at_ns);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	stampObservation(obs)
	valueJSON, err := encodeValue(obs.Value)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO observations (id, entity_id, field, value, source_name, observed_at, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.EntityID, obs.Field, string(valueJSON), obs.SourceName, obs.ObservedAt.UTC(), obs.RecordedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert observation")
}

// AppendObservations inserts observations in one transaction.
func (s *SQLiteStore) AppendObservations(ctx context.Context, obs []*model.Observation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append observations")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (id, entity_id, field, value, source_name, observed_at, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare append observations")
	}
	defer stmt.Close() //nolint:errcheck

	for _, o := range obs {
		stampObservation(o)
		valueJSON, err := encodeValue(o.Value)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.EntityID, o.Field, string(valueJSON), o.SourceName, o.ObservedAt.UTC(), o.RecordedAt.UTC()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert observation %s/%s", o.EntityID, o.Field)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append observations")
	}
	return int64(len(obs)), nil
}

func (s *SQLiteStore) ListObservations(ctx context.Context, filter model.ObservationFilter) ([]model.Observation, error) {
	query := `SELECT id, entity_id, field, value, source_name, observed_at, recorded_at FROM observations WHERE 1=1`
	var args []any

	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Field != "" {
		query += ` AND field = ?`
		args = append(args, filter.Field)
	}
	if filter.SourceName != "" {
		query += ` AND source_name = ?`
		args = append(args, filter.SourceName)
	}
	if !filter.Since.IsZero() {
		query += ` AND observed_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY rowid`
	if filter.NewestFirst {
		query += ` DESC`
	}
	if filter.Limit >= 0 {
		query += ` LIMIT ?`
		args = append(args, listLimit(filter.Limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list observations")
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var valueJSON string
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Field, &valueJSON, &o.SourceName, &o.ObservedAt, &o.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if o.Value, err = decodeValue([]byte(valueJSON)); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list observations iterate")
}

func (s *SQLiteStore) HistoryAggregates(ctx context.Context, outcomeField string) (*model.HistoryAggregates, error) {
	agg := &model.HistoryAggregates{OutcomeField: outcomeField}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&agg.TotalObservations); err != nil {
		return nil, eris.Wrap(err, "sqlite: count observations")
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(json_extract(value, '$')), 0) FROM observations
		 WHERE field = ? AND json_type(value) IN ('integer', 'real')`,
		outcomeField,
	).Scan(&agg.OutcomeSamples, &agg.MeanValue)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate outcomes")
	}
	return agg, nil
}

func (s *SQLiteStore) ReplaceSourceProfiles(ctx context.Context, field string, profiles []model.SourceProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace profiles")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_profiles WHERE field = ?`, field); err != nil {
		return eris.Wrapf(err, "sqlite: clear profiles for %s", field)
	}
	for _, p := range profiles {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO source_profiles (field, source_name, source_type, observations, conflicts, conflict_rate, suggested_weight, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			field, p.SourceName, p.SourceType, p.Observations, p.Conflicts, p.ConflictRate, p.SuggestedWeight, p.LastUpdated.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert profile %s/%s", field, p.SourceName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace profiles")
}

func (s *SQLiteStore) ListSourceProfiles(ctx context.Context, field string) ([]model.SourceProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, source_name, source_type, observations, conflicts, conflict_rate, suggested_weight, last_updated
		 FROM source_profiles WHERE field = ?
		 ORDER BY suggested_weight DESC, observations DESC, source_name ASC`,
		field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles")
	}
	defer rows.Close()

	var out []model.SourceProfile
	for rows.Next() {
		var p model.SourceProfile
		if err := rows.Scan(&p.Field, &p.SourceName, &p.SourceType, &p.Observations, &p.Conflicts, &p.ConflictRate, &p.SuggestedWeight, &p.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list profiles iterate")
}

func (s *SQLiteStore) SaveEstimate(ctx context.Context, est *model.Estimate) error {
	if est.ID == "" {
		est.ID = uuid.New().String()
	}
	if est.CreatedAt.IsZero() {
		est.CreatedAt = time.Now().UTC()
	}
	var value sql.NullString
	if est.Value != nil {
		b, err := encodeValue(est.Value)
		if err != nil {
			return err
		}
		value = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO estimates (id, entity_id, field, point_estimate, low, high, value, confidence, consistency_score, source_quality, observation_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		est.ID, est.EntityID, est.Field, est.PointEstimate, est.Low, est.High, value,
		est.Confidence, est.ConsistencyScore, est.SourceQuality, est.ObservationCount, est.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert estimate")
}

func (s *SQLiteStore) ListEstimates(ctx context.Context, entityID string, limit int) ([]model.Estimate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, field, point_estimate, low, high, value, confidence, consistency_score, source_quality, observation_count, created_at
		 FROM estimates WHERE entity_id = ? ORDER BY rowid DESC LIMIT ?`,
		entityID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list estimates")
	}
	defer rows.Close()

	var out []model.Estimate
	for rows.Next() {
		var e model.Estimate
		var value sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Field, &e.PointEstimate, &e.Low, &e.High, &value,
			&e.Confidence, &e.ConsistencyScore, &e.SourceQuality, &e.ObservationCount, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan estimate")
		}
		if value.Valid {
			if e.Value, err = decodeValue([]byte(value.String)); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list estimates iterate")
}

func (s *SQLiteStore) SaveWeightVector(ctx context.Context, wv *model.WeightVector) error {
	if wv.CreatedAt.IsZero() {
		wv.CreatedAt = time.Now().UTC()
	}
	weightsJSON, err := json.Marshal(wv.Weights)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal weights")
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO weight_vectors (version, weights, origin, adjustment, created_at)
		 SELECT COALESCE(MAX(version), 0) + 1, ?, ?, ?, ? FROM weight_vectors
		 RETURNING version`,
		string(weightsJSON), wv.Origin, wv.Adjustment, wv.CreatedAt.UTC(),
	).Scan(&wv.Version)
	return eris.Wrap(err, "sqlite: insert weight vector")
}

func (s *SQLiteStore) CurrentWeightVector(ctx context.Context) (*model.WeightVector, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, weights, origin, adjustment, created_at FROM weight_vectors ORDER BY version DESC LIMIT 1`,
	)
	wv, err := scanWeightVector(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wv, err
}

func (s *SQLiteStore) WeightHistory(ctx context.Context, limit int) ([]model.WeightVector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, weights, origin, adjustment, created_at FROM weight_vectors ORDER BY version DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list weight history")
	}
	defer rows.Close()

	var out []model.WeightVector
	for rows.Next() {
		wv, err := scanWeightVector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: weight history iterate")
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var payload string
	var ttl, created, expires int64

	err := s.db.QueryRowContext(ctx,
		`SELECT key, tool_id, payload, cost_ms, ttl_ns, created_at_ns, expires_at_ns FROM tool_cache WHERE key = ?`,
		key,
	).Scan(&e.Key, &e.ToolID, &payload, &e.CostMs, &ttl, &created, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	e.Payload = json.RawMessage(payload)
	e.TTL = time.Duration(ttl)
	e.CreatedAt = time.Unix(0, created).UTC()
	e.ExpiresAt = time.Unix(0, expires).UTC()
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_cache (key, tool_id, payload, cost_ms, ttl_ns, created_at_ns, expires_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			tool_id = excluded.tool_id,
			payload = excluded.payload,
			cost_ms = excluded.cost_ms,
			ttl_ns = excluded.ttl_ns,
			created_at_ns = excluded.created_at_ns,
			expires_at_ns = excluded.expires_at_ns`,
		entry.Key, entry.ToolID, string(entry.Payload), entry.CostMs, int64(entry.TTL),
		entry.CreatedAt.UnixNano(), entry.ExpiresAt.UnixNano(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tool_cache WHERE key = ?`, key)
	return eris.Wrap(err, "sqlite: delete cache entry")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_cache WHERE expires_at_ns <= ? OR ttl_ns <= 0`,
		now.UnixNano(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanWeightVector(row scannable) (*model.WeightVector, error) {
	var wv model.WeightVector
	var weightsJSON string

	err := row.Scan(&wv.Version, &weightsJSON, &wv.Origin, &wv.Adjustment, &wv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan weight vector")
	}
	if err := json.Unmarshal([]byte(weightsJSON), &wv.Weights); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal weights")
	}
	return &wv, nil
}
