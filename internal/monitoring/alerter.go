package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placescout/internal/config"
	"github.com/sells-group/placescout/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCircuitOpen AlertType = "circuit_open"
	AlertLowHitRate  AlertType = "low_cache_hit_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
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

	// Upstream is failing fast.
	if snap.Circuit.State == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"Circuit %q is open after %d consecutive upstream failures",
				snap.Circuit.Name, snap.Circuit.ConsecutiveFailures,
			),
			Details: map[string]any{
				"name":                 snap.Circuit.Name,
				"consecutive_failures": snap.Circuit.ConsecutiveFailures,
			},
			Timestamp: now,
		})
	}

	// Cache is not absorbing load.
	lookups := snap.Cache.Hits + snap.Cache.Misses
	if a.cfg.HitRateThreshold > 0 && lookups >= int64(a.cfg.MinLookups) && snap.Cache.HitRate < a.cfg.HitRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLowHitRate,
			Severity: "low",
			Message: fmt.Sprintf(
				"Cache hit rate %.1f%% below threshold %.1f%% (%d lookups)",
				snap.Cache.HitRate*100, a.cfg.HitRateThreshold*100, lookups,
			),
			Details: map[string]any{
				"hit_rate":  snap.Cache.HitRate,
				"threshold": a.cfg.HitRateThreshold,
				"lookups":   lookups,
				"entries":   snap.Cache.Entries,
			},
			Timestamp: now,
		})
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
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
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
