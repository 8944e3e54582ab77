package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placescout/internal/config"
	"github.com/sells-group/placescout/internal/discovery"
	"github.com/sells-group/placescout/internal/monitoring"
	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/internal/resilience"
	"github.com/sells-group/placescout/pkg/google"
)

// engineEnv holds the discovery engine and the resources it owns.
type engineEnv struct {
	Engine *discovery.Engine
	Cache  *discovery.CandidateCache
	redis  *redis.Client
}

// Close releases the shared cache connection, if any.
func (e *engineEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

// initEngine builds the engine from cfg. A configured but unreachable Redis
// is logged and skipped; the in-process cache still works alone.
func initEngine(ctx context.Context, cfg *config.Config) (*engineEnv, error) {
	log := zap.L().With(zap.String("component", "init"))

	cats, err := discovery.LoadCategories(cfg.Discovery.CategoriesFile)
	if err != nil {
		return nil, err
	}

	client := google.NewClient(
		google.WithBaseURL(cfg.Google.BaseURL),
		google.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Google.TimeoutSecs) * time.Second}),
	)

	cbCfg := resilience.FromCircuitConfig("places", cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	cbCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		monitoring.CircuitState.WithLabelValues(name).Set(float64(to))
		zap.L().Warn("circuit breaker state change",
			zap.String("component", "resilience"),
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	breaker := resilience.NewCircuitBreaker(cbCfg)

	fetcher := discovery.NewFetcher(client,
		discovery.WithRateLimit(cfg.Google.RateLimit),
		discovery.WithBreaker(breaker),
		discovery.WithMaxConcurrency(cfg.Discovery.MaxConcurrency),
	)

	env := &engineEnv{}
	cacheOpts := []placecache.Option{placecache.WithObserver(monitoring.CacheObserver{})}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := placecache.NewRedisStore(rdb, cfg.Redis.KeyPrefix)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, using in-process cache only", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = rdb.Close()
		} else {
			log.Info("redis cache tier enabled", zap.String("addr", cfg.Redis.Addr))
			cacheOpts = append(cacheOpts, placecache.WithBacking(store))
			env.redis = rdb
		}
	}

	cache, err := placecache.New[[]discovery.Candidate](cfg.Cache.MaxEntries, cfg.Cache.TTL(), cacheOpts...)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init cache")
	}

	env.Cache = cache
	env.Engine = discovery.NewEngine(fetcher, cache, cats,
		discovery.WithRadius(cfg.Discovery.RadiusMeters),
		discovery.WithMinReviewCount(cfg.Discovery.MinReviewCount),
	)
	return env, nil
}
