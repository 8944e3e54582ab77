package monitoring

import (
	"time"

	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	Cache   placecache.Stats `json:"cache"`
	Purged  int              `json:"purged"`
	Circuit CircuitSnapshot  `json:"circuit"`

	CollectedAt time.Time `json:"collected_at"`
}

// CircuitSnapshot describes the upstream circuit breaker.
type CircuitSnapshot struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// CacheSource abstracts the candidate cache methods needed by the collector.
type CacheSource interface {
	Stats() placecache.Stats
	Purge() int
}

// BreakerSource abstracts the circuit breaker methods needed by the collector.
type BreakerSource interface {
	Name() string
	State() resilience.CircuitState
	Counters() (int, resilience.CircuitState)
}

// Collector gathers cache and breaker state and mirrors it into gauges.
type Collector struct {
	cache   CacheSource
	breaker BreakerSource
}

// NewCollector creates a new metrics collector. breaker may be nil.
func NewCollector(cache CacheSource, breaker BreakerSource) *Collector {
	return &Collector{cache: cache, breaker: breaker}
}

// Collect returns a snapshot of the current state.
func (c *Collector) Collect() *MetricsSnapshot {
	snap := &MetricsSnapshot{
		Cache:       c.cache.Stats(),
		CollectedAt: time.Now().UTC(),
	}
	CacheEntries.Set(float64(snap.Cache.Entries))

	if c.breaker != nil {
		state := c.breaker.State()
		failures, _ := c.breaker.Counters()
		snap.Circuit = CircuitSnapshot{
			Name:                c.breaker.Name(),
			State:               state.String(),
			ConsecutiveFailures: failures,
		}
		CircuitState.WithLabelValues(c.breaker.Name()).Set(float64(state))
	}

	return snap
}

// Sweep drops expired cache entries and returns a snapshot taken afterwards.
func (c *Collector) Sweep() *MetricsSnapshot {
	purged := c.cache.Purge()
	snap := c.Collect()
	snap.Purged = purged
	return snap
}
