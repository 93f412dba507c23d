package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/weights"
)

// RefreshSummary reports what one refresh pass changed.
type RefreshSummary struct {
	Fields         int  `json:"fields" yaml:"fields"`
	Profiles       int  `json:"profiles" yaml:"profiles"`
	WeightVersion  int  `json:"weight_version" yaml:"weight_version"`
	WeightsChanged bool `json:"weights_changed" yaml:"weights_changed"`
}

// Refresh recomputes source profiles for every weighted dimension and
// re-learns the weight vector from history.
func (p *Pipeline) Refresh(ctx context.Context) (*RefreshSummary, error) {
	cur, err := p.weights.Current(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load weights")
	}

	summary := &RefreshSummary{}
	for _, dim := range cur.Dimensions() {
		profiles, err := p.reliability.EvaluateSourceReliability(ctx, dim)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: refresh reliability for %s", dim)
		}
		summary.Fields++
		summary.Profiles += len(profiles)
	}

	wv, changed, err := p.LearnWeights(ctx)
	if err != nil {
		return nil, err
	}
	summary.WeightVersion = wv.Version
	summary.WeightsChanged = changed
	return summary, nil
}

// LearnWeights derives a vector from history aggregates and adopts it when
// it differs from the current one.
func (p *Pipeline) LearnWeights(ctx context.Context) (*model.WeightVector, bool, error) {
	agg, err := p.store.HistoryAggregates(ctx, p.weights.Learning().OutcomeField)
	if err != nil {
		return nil, false, eris.Wrap(err, "pipeline: history aggregates")
	}
	learned, err := p.weights.LearnFromHistory(*agg)
	if err != nil {
		return nil, false, err
	}
	return p.weights.Adopt(ctx, learned)
}

// AdaptWeights computes a context-adjusted vector and adopts it when it
// differs from the current one.
func (p *Pipeline) AdaptWeights(ctx context.Context, c weights.Context) (*model.WeightVector, bool, error) {
	wv, err := p.weights.Compute(c)
	if err != nil {
		return nil, false, err
	}
	return p.weights.Adopt(ctx, wv)
}

// RunRefresher refreshes once immediately and then on every interval tick
// until ctx is cancelled. Failed passes are logged and retried on the next
// tick.
func (p *Pipeline) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		zap.L().Info("pipeline: refresher disabled")
		return
	}
	log := zap.L().With(zap.Duration("interval", interval))
	log.Info("pipeline: refresher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p.refreshOnce(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("pipeline: refresher stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) refreshOnce(ctx context.Context, log *zap.Logger) {
	start := time.Now()
	s, err := p.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("pipeline: refresh failed", zap.Error(err))
		}
		return
	}
	log.Info("pipeline: refresh complete",
		zap.Int("fields", s.Fields),
		zap.Int("profiles", s.Profiles),
		zap.Int("weight_version", s.WeightVersion),
		zap.Bool("weights_changed", s.WeightsChanged),
		zap.Duration("elapsed", time.Since(start)),
	)
}
