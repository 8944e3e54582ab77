package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/pkg/google"
	"github.com/sells-group/placescout/pkg/google/mocks"
)

const testKey = "test-key"

var center = Point{Lat: 48.8584, Lng: 2.2945}

func ptr[T any](v T) *T { return &v }

type placeOpt func(*google.NearbyPlace)

func withPrice(level int) placeOpt {
	return func(p *google.NearbyPlace) { p.PriceLevel = ptr(level) }
}

func withOpenNow(open bool) placeOpt {
	return func(p *google.NearbyPlace) { p.OpeningHours = &google.OpeningHours{OpenNow: ptr(open)} }
}

func withoutLocation() placeOpt {
	return func(p *google.NearbyPlace) { p.Geometry = nil }
}

func withoutRating() placeOpt {
	return func(p *google.NearbyPlace) { p.Rating = nil }
}

func withoutReviews() placeOpt {
	return func(p *google.NearbyPlace) { p.UserRatingsTotal = nil }
}

func withTypes(types ...string) placeOpt {
	return func(p *google.NearbyPlace) { p.Types = types }
}

// place builds a Nearby Search result a few hundred meters from center.
func place(id string, rating float64, reviews int, opts ...placeOpt) google.NearbyPlace {
	p := google.NearbyPlace{
		PlaceID:          id,
		Name:             "Place " + id,
		Rating:           ptr(rating),
		UserRatingsTotal: ptr(reviews),
		Types:            []string{"tourist_attraction", "point_of_interest"},
		Vicinity:         "Paris",
		Geometry: &google.Geometry{
			Location: &google.LatLng{Lat: center.Lat + 0.002, Lng: center.Lng + 0.002},
		},
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func okResponse(places ...google.NearbyPlace) *google.NearbySearchResponse {
	if len(places) == 0 {
		return &google.NearbySearchResponse{Status: google.StatusZeroResults}
	}
	return &google.NearbySearchResponse{Status: google.StatusOK, Results: places}
}

func forType(placeType string) any {
	return mock.MatchedBy(func(req google.NearbySearchRequest) bool {
		return req.Type == placeType
	})
}

// expectTypes registers one response per type; types without an entry in
// byType answer ZERO_RESULTS. Each type is expected times times.
func expectTypes(m *mocks.MockClient, types []string, byType map[string][]google.NearbyPlace, times int) {
	for _, tp := range types {
		m.On("NearbySearch", mock.Anything, forType(tp)).
			Return(okResponse(byType[tp]...), nil).
			Times(times)
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T, opts ...placecache.Option) *CandidateCache {
	t.Helper()
	c, err := placecache.New[[]Candidate](100, 5*time.Minute, opts...)
	require.NoError(t, err)
	return c
}

func newTestFetcher(client google.Client, opts ...FetcherOption) *Fetcher {
	return NewFetcher(client, append([]FetcherOption{WithRateLimit(0)}, opts...)...)
}

func newTestEngine(t *testing.T, client google.Client, cacheOpts []placecache.Option, opts ...EngineOption) *Engine {
	t.Helper()
	return NewEngine(newTestFetcher(client), newTestCache(t, cacheOpts...), DefaultCategories(), opts...)
}
