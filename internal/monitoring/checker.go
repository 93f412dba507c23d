package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting tool health checker",
		zap.Duration("interval", interval),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
	)

	// Baseline so the first tick reports one full interval.
	c.collector.Collect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("tool health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot, logs every alert and forwards them to the
// webhook. It returns the alerts raised.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap := c.collector.Collect()
	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("tools", len(snap.Tools)))
		return nil
	}

	for _, a := range alerts {
		log.Warn("monitoring: "+a.Message,
			zap.String("type", string(a.Type)),
			zap.String("tool", a.ToolID),
		)
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
