package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/target-signal/internal/config"
	"github.com/sells-group/target-signal/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertToolFailureRate AlertType = "tool_failure_rate"
	AlertCircuitOpen     AlertType = "circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	ToolID    string         `json:"tool_id"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, t := range snap.Tools {
		dispatched := t.Calls - t.CacheHits
		if a.cfg.FailureRateThreshold > 0 && dispatched >= int64(a.cfg.MinCalls) && dispatched > 0 && t.FailRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertToolFailureRate,
				ToolID:   t.ToolID,
				Severity: "high",
				Message: fmt.Sprintf(
					"Tool %s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d dispatched)",
					t.ToolID, t.FailRate*100, a.cfg.FailureRateThreshold*100, t.Failures, dispatched,
				),
				Details: map[string]any{
					"failure_rate": t.FailRate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       t.Failures,
					"dispatched":   dispatched,
				},
				Timestamp: now,
			})
		}

		if t.CircuitState == resilience.CircuitOpen.String() {
			alerts = append(alerts, Alert{
				Type:      AlertCircuitOpen,
				ToolID:    t.ToolID,
				Severity:  "medium",
				Message:   fmt.Sprintf("Tool %s circuit breaker is open", t.ToolID),
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("tool", alert.ToolID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("tool", alert.ToolID),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
