package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/placescout/internal/monitoring"
	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/internal/resilience"
)

// DefaultRadiusMeters is the search radius used by TopAttractions and TopRestaurants.
const DefaultRadiusMeters = 1500

// CandidateCache memoizes filtered candidate lists per query key.
type CandidateCache = placecache.Cache[[]Candidate]

// Engine answers "top places near here" queries: it fetches every category
// type for the profile, filters the aggregate, caches it and ranks it.
type Engine struct {
	fetcher *Fetcher
	filter  *Filter
	scorer  *Scorer
	cats    Categories
	cache   *CandidateCache
	radius  int
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	radius         int
	minReviewCount int
}

// WithRadius overrides DefaultRadiusMeters.
func WithRadius(meters int) EngineOption {
	return func(o *engineOptions) { o.radius = meters }
}

// WithMinReviewCount overrides DefaultMinReviewCount.
func WithMinReviewCount(n int) EngineOption {
	return func(o *engineOptions) { o.minReviewCount = n }
}

// NewEngine wires a fetcher and a cache with the given categories.
func NewEngine(fetcher *Fetcher, cache *CandidateCache, cats Categories, opts ...EngineOption) *Engine {
	o := engineOptions{radius: DefaultRadiusMeters, minReviewCount: DefaultMinReviewCount}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		fetcher: fetcher,
		filter:  NewFilter(cats, o.minReviewCount),
		scorer:  NewScorer(cats),
		cats:    cats,
		cache:   cache,
		radius:  o.radius,
	}
}

// TopAttractions returns up to limit attractions near (lat, lng), best first.
func (e *Engine) TopAttractions(ctx context.Context, lat, lng float64, credential string, limit int) ([]ScoredCandidate, error) {
	return e.Top(ctx, ProfileAttraction, Point{Lat: lat, Lng: lng}, credential, limit)
}

// TopRestaurants returns up to limit restaurants near (lat, lng), best first.
func (e *Engine) TopRestaurants(ctx context.Context, lat, lng float64, credential string, limit int) ([]ScoredCandidate, error) {
	return e.Top(ctx, ProfileRestaurant, Point{Lat: lat, Lng: lng}, credential, limit)
}

// Top scores the cached or freshly discovered candidates for profile and
// returns the best limit of them.
func (e *Engine) Top(ctx context.Context, profile Profile, center Point, credential string, limit int) ([]ScoredCandidate, error) {
	if limit < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must be >= 0"}
	}

	candidates, err := e.Discover(ctx, profile, center, credential)
	if err != nil {
		return nil, err
	}

	scored := e.scorer.Score(candidates, profile)
	top := TopN(scored, limit)
	for i := range top {
		top[i].DistanceMeters = DistanceMeters(center, top[i].Location)
	}
	return top, nil
}

// Discover returns the filtered candidates for profile around center, from
// the cache when a live entry exists. The returned slice is shared and must
// not be modified.
func (e *Engine) Discover(ctx context.Context, profile Profile, center Point, credential string) ([]Candidate, error) {
	if err := validateParams(searchParams{Lat: center.Lat, Lng: center.Lng, Radius: e.radius, Credential: credential}); err != nil {
		return nil, err
	}

	key := CacheKey(profile, center, e.radius, credential)
	candidates, _, err := e.cache.Get(ctx, key, func(ctx context.Context) ([]Candidate, error) {
		return e.discover(ctx, profile, center, credential)
	})
	return candidates, err
}

// discover runs one uncached discovery pass.
func (e *Engine) discover(ctx context.Context, profile Profile, center Point, credential string) ([]Candidate, error) {
	passID := uuid.NewString()
	log := zap.L().With(
		zap.String("component", "discovery.engine"),
		zap.String("pass_id", passID),
		zap.String("profile", string(profile)),
		zap.Float64("lat", center.Lat),
		zap.Float64("lng", center.Lng),
		zap.Int("radius", e.radius),
	)

	start := time.Now()
	types := e.cats.TypesFor(profile)
	log.Debug("discovery pass started", zap.Int("types", len(types)))

	results, err := e.fetcher.FetchAll(ctx, center, e.radius, types, credential)
	if err != nil {
		monitoring.RecordDiscoveryPass(string(profile), passOutcome(err), time.Since(start))
		log.Warn("discovery pass failed", zap.Error(err))
		return nil, err
	}

	candidates, report := e.filter.Apply(results, profile)
	if len(candidates) == 0 {
		monitoring.RecordDiscoveryPass(string(profile), "not_found", time.Since(start))
		log.Info("discovery pass found nothing", zap.Int("seen", report.Seen), zap.Any("dropped", report.Dropped))
		return nil, &NotFoundError{Lat: center.Lat, Lng: center.Lng}
	}

	monitoring.RecordDiscoveryPass(string(profile), "ok", time.Since(start))
	log.Info("discovery pass complete",
		zap.Int("seen", report.Seen),
		zap.Int("kept", report.Kept),
		zap.Any("dropped", report.Dropped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return candidates, nil
}

// Cache returns the candidate cache.
func (e *Engine) Cache() *CandidateCache {
	return e.cache
}

// Breaker returns the circuit breaker guarding the upstream.
func (e *Engine) Breaker() *resilience.CircuitBreaker {
	return e.fetcher.Breaker()
}

// Categories returns the effective category configuration.
func (e *Engine) Categories() Categories {
	return e.cats
}

// CacheKey identifies one discovery pass. The credential is reduced to a
// short hash so keys can be logged.
func CacheKey(profile Profile, center Point, radius int, credential string) string {
	return fmt.Sprintf("%s:%.6f,%.6f:%d:%s", profile, center.Lat, center.Lng, radius, CredentialScope(credential))
}

// CredentialScope returns the first 16 hex characters of the credential's SHA-256.
func CredentialScope(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:16]
}

func passOutcome(err error) string {
	var (
		valErr *ValidationError
		apiErr *APIError
	)
	switch {
	case errors.As(err, &valErr):
		return "invalid"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
