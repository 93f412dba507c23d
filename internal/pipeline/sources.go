package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/target-signal/internal/model"
	"github.com/sells-group/target-signal/internal/orchestrator"
	"github.com/sells-group/target-signal/internal/resilience"
)

// runSources fans the data source calls out through the runner, then
// retries each transient failure with backoff until it succeeds, fails
// permanently, or the retry budget is spent.
func (p *Pipeline) runSources(ctx context.Context, entityID string, calls []model.ToolCall) []model.ToolCallResult {
	if len(calls) == 0 || p.tools == nil {
		return nil
	}
	results := p.tools.RunToolsParallel(ctx, withEntity(entityID, calls), p.maxWorkers)

	cfg := p.retry
	if cfg.MaxAttempts <= 1 {
		return results
	}
	// The parallel pass used the first attempt.
	cfg.MaxAttempts--

	var g errgroup.Group
	if p.maxWorkers > 0 {
		g.SetLimit(p.maxWorkers)
	}
	for i := range results {
		if !retryable(results[i].Result) {
			continue
		}
		g.Go(func() error {
			results[i].Result = p.retryCall(ctx, cfg, results[i].Call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) retryCall(ctx context.Context, cfg resilience.RetryConfig, call model.ToolCall) *model.ToolResult {
	cfg.OnRetry = resilience.RetryLogger(call.ToolID)

	if !sleep(ctx, cfg.InitialBackoff) {
		return cancelled(call, ctx.Err())
	}

	var last *model.ToolResult
	_, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ToolResult, error) {
		res, err := p.tools.RunTool(ctx, call.ToolID, call.Params, orchestrator.WithCache(call.CacheEnabled()))
		if err != nil {
			return nil, err
		}
		last = res
		if !res.Success {
			return nil, res.Err
		}
		return res, nil
	})
	if err != nil && last == nil {
		// The tool was disabled or removed between attempts.
		return &model.ToolResult{
			ToolID:     call.ToolID,
			Provenance: model.ProvenanceProvider,
			Error:      err.Error(),
			ErrorKind:  resilience.Kind(err),
			Err:        err,
		}
	}
	if !last.Success {
		zap.L().Warn("pipeline: tool retries exhausted",
			zap.String("tool", call.ToolID),
			zap.String("kind", last.ErrorKind),
			zap.String("error", last.Error),
		)
	}
	return last
}

func retryable(res *model.ToolResult) bool {
	if res == nil || res.Success {
		return false
	}
	if res.Err != nil {
		return resilience.IsTransient(res.Err)
	}
	return res.ErrorKind == resilience.KindTransient
}

func cancelled(call model.ToolCall, err error) *model.ToolResult {
	err = resilience.NewTransientError(err, 0)
	return &model.ToolResult{
		ToolID:     call.ToolID,
		Provenance: model.ProvenanceProvider,
		Error:      err.Error(),
		ErrorKind:  resilience.KindTransient,
		Err:        err,
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
