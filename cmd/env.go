package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/orchestrator"
	"github.com/sells-group/target-signal/internal/orchestrator/provider"
	"github.com/sells-group/target-signal/internal/pipeline"
	"github.com/sells-group/target-signal/internal/store"
	anthropicpkg "github.com/sells-group/target-signal/pkg/anthropic"
)

// appEnv holds the store, orchestrator and pipeline shared by the commands.
type appEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Orchestrator != nil {
		if err := e.Orchestrator.Close(); err != nil {
			zap.L().Warn("close orchestrator", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "target-signal.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv opens the store, binds every configured tool to its provider and
// builds the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.RequireAnthropic(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	deps := provider.Deps{
		Observations: st,
		LLMModel:     cfg.Anthropic.Model,
	}
	if cfg.Anthropic.Key != "" {
		deps.LLM = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Debug("TARGET_SIGNAL_ANTHROPIC_KEY not set, llm_analyst tools unavailable")
	}

	env.Orchestrator, err = orchestrator.Build(cfg, st, provider.Builtins(), deps)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Pipeline, err = pipeline.Build(cfg, st, env.Orchestrator)
	if err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Info("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Orchestrator.Cache.Driver),
		zap.Int("tools", len(cfg.Tools)),
	)
	return env, nil
}
