package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/placescout/internal/monitoring"
	"github.com/sells-group/placescout/internal/resilience"
	"github.com/sells-group/placescout/pkg/google"
)

const opNearbySearch = "nearby_search"

// Fetcher issues one Nearby Search request per place type. It keeps no state
// between calls other than its rate limiter and circuit breaker.
type Fetcher struct {
	google         google.Client
	limiter        *rate.Limiter
	breaker        *resilience.CircuitBreaker
	maxConcurrency int
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRateLimit caps outbound requests per second. Zero or less disables limiting.
func WithRateLimit(perSecond float64) FetcherOption {
	return func(f *Fetcher) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithBreaker routes every request through cb.
func WithBreaker(cb *resilience.CircuitBreaker) FetcherOption {
	return func(f *Fetcher) { f.breaker = cb }
}

// WithMaxConcurrency bounds the number of in-flight per-type requests.
func WithMaxConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxConcurrency = n
		}
	}
}

// NewFetcher creates a Fetcher. Defaults: 10 req/s, 11 concurrent requests,
// the default circuit breaker.
func NewFetcher(g google.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		google:         g,
		limiter:        rate.NewLimiter(rate.Limit(10), 1),
		breaker:        resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		maxConcurrency: 11,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Breaker returns the circuit breaker guarding the upstream.
func (f *Fetcher) Breaker() *resilience.CircuitBreaker {
	return f.breaker
}

// FetchByType runs a single Nearby Search for placeType around center.
// ZERO_RESULTS yields an empty slice; any other non-OK status is an *APIError.
func (f *Fetcher) FetchByType(ctx context.Context, center Point, radius int, placeType, credential string) ([]google.NearbyPlace, error) {
	if err := validateParams(searchParams{Lat: center.Lat, Lng: center.Lng, Radius: radius, Credential: credential}); err != nil {
		return nil, err
	}
	return f.fetch(ctx, center, radius, placeType, credential)
}

// FetchAll fetches every type concurrently, bounded by the configured
// concurrency. Results are returned in the order of types. The first failure
// cancels the remaining requests and is returned alone; partial results are
// discarded.
func (f *Fetcher) FetchAll(ctx context.Context, center Point, radius int, types []string, credential string) ([][]google.NearbyPlace, error) {
	if err := validateParams(searchParams{Lat: center.Lat, Lng: center.Lng, Radius: radius, Credential: credential}); err != nil {
		return nil, err
	}

	results := make([][]google.NearbyPlace, len(types))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrency)

	for i, placeType := range types {
		g.Go(func() error {
			places, err := f.fetch(gCtx, center, radius, placeType, credential)
			if err != nil {
				return err
			}
			results[i] = places
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Surface the caller's own cancellation rather than a sibling's.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return results, nil
}

func (f *Fetcher) fetch(ctx context.Context, center Point, radius int, placeType, credential string) ([]google.NearbyPlace, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// The limiter refuses waits that would outlive the deadline.
			return nil, eris.Wrap(context.DeadlineExceeded, "discovery: rate limit wait")
		}
	}

	req := google.NearbySearchRequest{
		Location: google.LatLng{Lat: center.Lat, Lng: center.Lng},
		Radius:   radius,
		Type:     placeType,
		Key:      credential,
	}

	start := time.Now()
	resp, err := resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (*google.NearbySearchResponse, error) {
		return f.search(ctx, req)
	})
	elapsed := time.Since(start)

	if err != nil {
		monitoring.RecordUpstreamRequest(placeType, outcomeLabel(err), elapsed)
		return nil, f.classify(ctx, placeType, err)
	}
	monitoring.RecordUpstreamRequest(placeType, resp.Status, elapsed)

	zap.L().Debug("nearby search complete",
		zap.String("component", "discovery.fetcher"),
		zap.String("type", placeType),
		zap.String("status", resp.Status),
		zap.Int("results", len(resp.Results)),
		zap.Duration("elapsed", elapsed),
	)

	if resp.Status == google.StatusZeroResults {
		return []google.NearbyPlace{}, nil
	}
	return resp.Results, nil
}

// search performs the upstream call and turns every non-success outcome into
// an error so the breaker sees it.
func (f *Fetcher) search(ctx context.Context, req google.NearbySearchRequest) (*google.NearbySearchResponse, error) {
	resp, err := f.google.NearbySearch(ctx, req)
	if err != nil {
		var httpErr *google.HTTPError
		if errors.As(err, &httpErr) && resilience.IsTransientHTTPStatus(httpErr.StatusCode) {
			return nil, resilience.NewTransientError(err, httpErr.StatusCode)
		}
		return nil, err
	}

	switch resp.Status {
	case google.StatusOK, google.StatusZeroResults:
		return resp, nil
	}

	apiErr := &APIError{
		Op:      opNearbySearch,
		Type:    req.Type,
		Status:  resp.Status,
		Message: resp.ErrorMessage,
	}
	if resilience.IsTransientPlacesStatus(resp.Status) {
		apiErr.Transient = true
		apiErr.Err = resilience.NewTransientError(errors.New(resp.Status), 0)
	}
	return nil, apiErr
}

// classify maps a failed request onto the error taxonomy. Context errors
// from the caller pass through unchanged.
func (f *Fetcher) classify(ctx context.Context, placeType string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &APIError{
			Op:        opNearbySearch,
			Type:      placeType,
			Message:   "upstream unavailable",
			Transient: true,
			Err:       err,
		}
	}

	return &APIError{
		Op:        opNearbySearch,
		Type:      placeType,
		Message:   "request failed",
		Transient: resilience.IsTransient(err),
		Err:       err,
	}
}

func outcomeLabel(err error) string {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status != "":
		return apiErr.Status
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport_error"
	}
}
