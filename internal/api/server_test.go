package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placescout/internal/discovery"
	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/internal/resilience"
	"github.com/sells-group/placescout/pkg/google"
	"github.com/sells-group/placescout/pkg/google/mocks"
)

type topCall struct {
	profile    discovery.Profile
	center     discovery.Point
	credential string
	limit      int
}

type fakeRanker struct {
	calls   []topCall
	results []discovery.ScoredCandidate
	err     error
}

func (f *fakeRanker) Top(ctx context.Context, profile discovery.Profile, center discovery.Point, credential string, limit int) ([]discovery.ScoredCandidate, error) {
	f.calls = append(f.calls, topCall{profile, center, credential, limit})
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected request deadline")
	}
	return f.results, nil
}

type fakeStats struct{ stats placecache.Stats }

func (f fakeStats) Stats() placecache.Stats { return f.stats }

type fakeBreaker struct{ state resilience.CircuitState }

func (f fakeBreaker) State() resilience.CircuitState { return f.state }

func sampleResults() []discovery.ScoredCandidate {
	return []discovery.ScoredCandidate{
		{
			Candidate: discovery.Candidate{
				PlaceID:     "orsay",
				Name:        "Musee d'Orsay",
				Rating:      4.8,
				ReviewCount: 1200,
				Types:       []string{"museum"},
				Location:    discovery.Point{Lat: 48.86, Lng: 2.3266},
			},
			Score:          84.4,
			Breakdown:      discovery.ScoreBreakdown{Quality: 98.5, Diversity: 60, Locality: 90},
			DistanceMeters: 2400,
		},
	}
}

func newTestServer(ranker Ranker, opts Options) http.Handler {
	return NewServer(ranker, fakeStats{}, fakeBreaker{state: resilience.CircuitClosed}, opts).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTop_JSON(t *testing.T) {
	ranker := &fakeRanker{results: sampleResults()}
	h := newTestServer(ranker, Options{DefaultCredential: "config-key", DefaultLimit: 7})

	rec := do(t, h, http.MethodGet, "/v1/attractions?lat=48.8584&lng=2.2945", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body TopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, discovery.ProfileAttraction, body.Profile)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "orsay", body.Results[0].PlaceID)
	assert.InDelta(t, 84.4, body.Results[0].Score, 0.001)

	require.Len(t, ranker.calls, 1)
	call := ranker.calls[0]
	assert.Equal(t, discovery.Point{Lat: 48.8584, Lng: 2.2945}, call.center)
	assert.Equal(t, "config-key", call.credential)
	assert.Equal(t, 7, call.limit)
}

func TestTop_HeaderCredentialAndLimit(t *testing.T) {
	ranker := &fakeRanker{results: sampleResults()}
	h := newTestServer(ranker, Options{DefaultCredential: "config-key"})

	rec := do(t, h, http.MethodGet, "/v1/restaurants?lat=1&lng=2&limit=3",
		http.Header{CredentialHeader: []string{"caller-key"}})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ranker.calls, 1)
	assert.Equal(t, discovery.ProfileRestaurant, ranker.calls[0].profile)
	assert.Equal(t, "caller-key", ranker.calls[0].credential)
	assert.Equal(t, 3, ranker.calls[0].limit)
}

func TestTop_GeoJSON(t *testing.T) {
	h := newTestServer(&fakeRanker{results: sampleResults()}, Options{})

	rec := do(t, h, http.MethodGet, "/v1/attractions?lat=48.8584&lng=2.2945&format=GeoJSON", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	assert.Equal(t, "orsay", doc.Features[0].ID)
	assert.Equal(t, []float64{2.3266, 48.86}, doc.Features[0].Geometry.Coordinates)
}

func TestTop_BadQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
		field  string
	}{
		{"missing lat", "/v1/attractions?lng=2", "lat"},
		{"bad lng", "/v1/attractions?lat=1&lng=east", "lng"},
		{"bad limit", "/v1/attractions?lat=1&lng=2&limit=ten", "limit"},
		{"bad format", "/v1/attractions?lat=1&lng=2&format=xml", "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranker := &fakeRanker{}
			rec := do(t, newTestServer(ranker, Options{}), http.MethodGet, tt.target, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec).Error, tt.field)
			assert.Empty(t, ranker.calls)
		})
	}
}

func TestTop_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"validation", &discovery.ValidationError{Field: "radius", Reason: "must be at least 100"}, http.StatusBadRequest, false},
		{"not found", &discovery.NotFoundError{Lat: 1, Lng: 2}, http.StatusNotFound, false},
		{"fatal upstream", &discovery.APIError{Op: "nearby_search", Status: "REQUEST_DENIED"}, http.StatusBadGateway, false},
		{"transient upstream", &discovery.APIError{Op: "nearby_search", Status: "OVER_QUERY_LIMIT", Transient: true}, http.StatusBadGateway, true},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, true},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(&fakeRanker{err: tt.err}, Options{}), http.MethodGet, "/v1/attractions?lat=1&lng=2", nil)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.NotEmpty(t, body.RequestID)
			assert.NotContains(t, body.Error, "REQUEST_DENIED")
		})
	}
}

func TestNotFoundMessageNamesCenter(t *testing.T) {
	rec := do(t, newTestServer(&fakeRanker{err: &discovery.NotFoundError{Lat: 12.5, Lng: -7.25}}, Options{}),
		http.MethodGet, "/v1/restaurants?lat=12.5&lng=-7.25", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "12.500000,-7.250000")
}

func TestRequestID(t *testing.T) {
	h := newTestServer(&fakeRanker{results: sampleResults()}, Options{})

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	rec = do(t, h, http.MethodGet, "/health", http.Header{RequestIDHeader: []string{"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = do(t, newTestServer(&fakeRanker{err: &discovery.NotFoundError{}}, Options{}),
		http.MethodGet, "/v1/attractions?lat=1&lng=2", http.Header{RequestIDHeader: []string{"req-9"}})
	assert.Equal(t, "req-9", decodeError(t, rec).RequestID)

	rec = do(t, h, http.MethodGet, "/health", http.Header{"x-request-id": []string{"lower-1"}})
	assert.Equal(t, "lower-1", rec.Header().Get(RequestIDHeader))
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeRanker{}, Options{}), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","circuit":"closed"}`, rec.Body.String())

	h := NewServer(&fakeRanker{}, fakeStats{}, fakeBreaker{state: resilience.CircuitOpen}, Options{}).Handler()
	rec = do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","circuit":"open"}`, rec.Body.String())

	h = NewServer(&fakeRanker{}, fakeStats{}, nil, Options{}).Handler()
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCacheStats(t *testing.T) {
	stats := placecache.Stats{Entries: 3, MaxEntries: 100, TTLSecs: 300, Hits: 9, Misses: 3, Loads: 3, HitRate: 0.75}
	h := NewServer(&fakeRanker{}, fakeStats{stats: stats}, nil, Options{}).Handler()

	rec := do(t, h, http.MethodGet, "/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got placecache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, stats, got)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeRanker{results: sampleResults()}, Options{})
	do(t, h, http.MethodGet, "/v1/attractions?lat=1&lng=2", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `placescout_http_requests_total{code="200",route="/v1/attractions"}`)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(&fakeRanker{results: sampleResults()}, Options{RateLimitPerMin: 2})

	for range 2 {
		rec := do(t, h, http.MethodGet, "/v1/attractions?lat=1&lng=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/attractions?lat=1&lng=2", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health is outside the /v1 budget.
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(&fakeRanker{results: sampleResults()}, Options{CORSOrigins: []string{"https://maps.example.com"}})

	rec := do(t, h, http.MethodOptions, "/v1/attractions", http.Header{
		"Origin":                        []string{"https://maps.example.com"},
		"Access-Control-Request-Method": []string{http.MethodGet},
	})
	assert.Equal(t, "https://maps.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/v1/attractions?lat=1&lng=2", http.Header{
		"Origin": []string{"https://evil.example.com"},
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTop_ThroughEngine(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, mock.MatchedBy(func(req google.NearbySearchRequest) bool {
		return req.Key == "caller-key" && req.Radius == discovery.DefaultRadiusMeters
	})).Return(&google.NearbySearchResponse{
		Status: google.StatusOK,
		Results: []google.NearbyPlace{{
			PlaceID:          "bistro",
			Name:             "Bistro",
			Rating:           ptr(4.4),
			UserRatingsTotal: ptr(850),
			PriceLevel:       ptr(2),
			Types:            []string{"restaurant"},
			Geometry:         &google.Geometry{Location: &google.LatLng{Lat: 48.859, Lng: 2.295}},
		}},
	}, nil).Times(len(discovery.DefaultCategories().RestaurantTypes))

	cache, err := placecache.New[[]discovery.Candidate](100, 5*time.Minute)
	require.NoError(t, err)
	engine := discovery.NewEngine(discovery.NewFetcher(client, discovery.WithRateLimit(0)), cache, discovery.DefaultCategories())
	h := NewServer(engine, cache, engine.Breaker(), Options{}).Handler()

	header := http.Header{CredentialHeader: []string{"caller-key"}}
	for range 2 {
		rec := do(t, h, http.MethodGet, "/v1/restaurants?lat=48.8584&lng=2.2945", header)
		require.Equal(t, http.StatusOK, rec.Code)

		var body TopResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Results, 1)
		assert.Equal(t, "bistro", body.Results[0].PlaceID)
		assert.Greater(t, body.Results[0].DistanceMeters, 0.0)
	}

	// Missing credential with no configured default.
	rec := do(t, h, http.MethodGet, "/v1/restaurants?lat=48.8584&lng=2.2945", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "credential")

	assert.Equal(t, int64(1), cache.Stats().Loads)
}

func ptr[T any](v T) *T { return &v }
