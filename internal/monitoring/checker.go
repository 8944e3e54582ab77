package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/placescout/internal/config"
)

// Checker sweeps the cache and runs alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	firing    map[AlertType]bool
}

// NewChecker creates a background checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check sweeps expired entries and sends alerts that were not already firing
// at the previous check.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap := c.collector.Sweep()
	if snap.Purged > 0 {
		log.Debug("swept expired cache entries", zap.Int("purged", snap.Purged))
	}

	alerts := c.alerter.Evaluate(snap)

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !now[t] {
			log.Info("monitoring: alert resolved", zap.String("type", string(t)))
		}
	}
	c.firing = now

	if len(fresh) == 0 {
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
