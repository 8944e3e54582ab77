package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placescout/internal/placecache"
	"github.com/sells-group/placescout/pkg/google"
	"github.com/sells-group/placescout/pkg/google/mocks"
)

func attractionFixture() map[string][]google.NearbyPlace {
	return map[string][]google.NearbyPlace{
		"tourist_attraction": {
			place("eiffel", 4.7, 300000, withTypes("tourist_attraction", "point_of_interest")),
			place("shop", 4.5, 900, withTypes("tourist_attraction", "store")),
			place("tiny", 4.9, 4),
		},
		"museum": {
			place("orsay", 4.8, 1200, withPrice(2), withTypes("museum", "tourist_attraction")),
			place("eiffel", 4.7, 300000),
			place("norating", 0, 500, withoutRating()),
		},
		"art_gallery": {
			place("gallery", 4.4, 650, withTypes("art_gallery")),
		},
		"park": {
			place("champ", 4.6, 40000, withTypes("park", "tourist_attraction")),
			place("lost", 4.2, 80, withoutLocation()),
		},
		"zoo": {
			place("zoo", 4.1, 2500, withPrice(3), withTypes("zoo")),
		},
		"aquarium": {
			place("aqua", 4.0, 7000, withPrice(4), withTypes("aquarium")),
		},
		"performing_arts_theater": {
			place("opera", 4.7, 55000, withTypes("performing_arts_theater", "tourist_attraction")),
		},
	}
}

func TestEngine_TopAttractions(t *testing.T) {
	client := mocks.NewMockClient(t)
	expectTypes(client, DefaultCategories().AttractionTypes, attractionFixture(), 1)

	e := newTestEngine(t, client, nil, WithRadius(2000))
	top, err := e.TopAttractions(context.Background(), center.Lat, center.Lng, testKey, 5)
	require.NoError(t, err)
	require.Len(t, top, 5)

	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Score, top[i].Score)
	}

	blocked := toSet(DefaultCategories().Blocked)
	seen := make(map[string]bool)
	for _, sc := range top {
		assert.False(t, seen[sc.PlaceID])
		seen[sc.PlaceID] = true
		assert.Greater(t, sc.Rating, 0.0)
		assert.GreaterOrEqual(t, sc.ReviewCount, 10)
		for _, tp := range sc.Types {
			_, isBlocked := blocked[tp]
			assert.False(t, isBlocked)
		}
		assert.Greater(t, sc.DistanceMeters, 0.0)
		assert.Less(t, sc.DistanceMeters, 1000.0)
	}

	for _, dropped := range []string{"shop", "tiny", "norating", "lost"} {
		assert.False(t, seen[dropped], dropped)
	}
}

func TestEngine_RadiusIsForwarded(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, mock.MatchedBy(func(req google.NearbySearchRequest) bool {
		return req.Radius == 1500 && req.Key == testKey
	})).Return(okResponse(place("a", 4.2, 200, withTypes("restaurant"))), nil).
		Times(len(DefaultCategories().RestaurantTypes))

	e := newTestEngine(t, client, nil)
	top, err := e.TopRestaurants(context.Background(), center.Lat, center.Lng, testKey, 10)
	require.NoError(t, err)
	require.Len(t, top, 1, "same place from every type is de-duplicated")
	assert.Zero(t, top[0].Breakdown.Diversity)
}

func TestEngine_InvalidRadius(t *testing.T) {
	client := mocks.NewMockClient(t) // no network allowed

	e := newTestEngine(t, client, nil, WithRadius(50))
	_, err := e.TopAttractions(context.Background(), center.Lat, center.Lng, testKey, 5)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "radius", valErr.Field)
	assert.Equal(t, 0, e.Cache().Len())
}

func TestEngine_MissingCredential(t *testing.T) {
	client := mocks.NewMockClient(t)

	e := newTestEngine(t, client, nil)
	_, err := e.TopRestaurants(context.Background(), center.Lat, center.Lng, "", 5)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "credential", valErr.Field)
}

func TestEngine_NegativeLimit(t *testing.T) {
	client := mocks.NewMockClient(t)

	e := newTestEngine(t, client, nil)
	_, err := e.TopAttractions(context.Background(), center.Lat, center.Lng, testKey, -1)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "limit", valErr.Field)
}

func TestEngine_ZeroResultsEverywhere(t *testing.T) {
	client := mocks.NewMockClient(t)
	expectTypes(client, DefaultCategories().AttractionTypes, nil, 1)

	e := newTestEngine(t, client, nil)
	_, err := e.TopAttractions(context.Background(), 12.5, -7.25, testKey, 5)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.InDelta(t, 12.5, nf.Lat, 1e-9)
	assert.InDelta(t, -7.25, nf.Lng, 1e-9)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, e.Cache().Len(), "not-found is not cached")
}

func TestEngine_LimitZero(t *testing.T) {
	client := mocks.NewMockClient(t)
	expectTypes(client, DefaultCategories().AttractionTypes, attractionFixture(), 1)

	e := newTestEngine(t, client, nil)
	top, err := e.TopAttractions(context.Background(), center.Lat, center.Lng, testKey, 0)
	require.NoError(t, err)
	assert.NotNil(t, top)
	assert.Empty(t, top)
}

func TestEngine_CacheHitSkipsUpstream(t *testing.T) {
	client := mocks.NewMockClient(t)
	expectTypes(client, DefaultCategories().AttractionTypes, attractionFixture(), 1)

	e := newTestEngine(t, client, nil)
	ctx := context.Background()

	first, err := e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 10)
	require.NoError(t, err)
	second, err := e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	stats := e.Cache().Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Loads)
}

func TestEngine_RefetchAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	client := mocks.NewMockClient(t)
	expectTypes(client, DefaultCategories().AttractionTypes, attractionFixture(), 2)

	e := newTestEngine(t, client, []placecache.Option{placecache.WithClock(clock.Now)})
	ctx := context.Background()

	_, err := e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 3)
	require.NoError(t, err)

	clock.Advance(4*time.Minute + 59*time.Second)
	_, err = e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 3)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(2), e.Cache().Stats().Loads)
}

func TestEngine_ConcurrentCallersShareOnePass(t *testing.T) {
	types := DefaultCategories().AttractionTypes
	fixture := attractionFixture()

	client := mocks.NewMockClient(t)
	for _, tp := range types {
		client.On("NearbySearch", mock.Anything, forType(tp)).
			Run(func(_ mock.Arguments) { time.Sleep(20 * time.Millisecond) }).
			Return(okResponse(fixture[tp]...), nil).
			Once()
	}

	e := newTestEngine(t, client, nil)

	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			top, err := e.TopAttractions(context.Background(), center.Lat, center.Lng, testKey, 3)
			assert.NoError(t, err)
			assert.Len(t, top, 3)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), e.Cache().Stats().Loads)
}

func TestEngine_FailureNotCached(t *testing.T) {
	types := DefaultCategories().RestaurantTypes
	client := mocks.NewMockClient(t)

	// First pass: bakery is denied, which aborts the pass.
	for _, tp := range types {
		if tp == "bakery" {
			client.On("NearbySearch", mock.Anything, forType(tp)).
				Return(&google.NearbySearchResponse{Status: "UNKNOWN_ERROR"}, nil).Once()
			continue
		}
		client.On("NearbySearch", mock.Anything, forType(tp)).
			Return(okResponse(place("r-"+tp, 4.3, 300, withTypes("restaurant"))), nil).Maybe()
	}

	e := newTestEngine(t, client, nil)
	_, err := e.TopRestaurants(context.Background(), center.Lat, center.Lng, testKey, 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Transient)
	assert.Equal(t, 0, e.Cache().Len())

	// Second pass succeeds and is cached.
	client.On("NearbySearch", mock.Anything, forType("bakery")).
		Return(okResponse(place("croissant", 4.8, 900, withTypes("bakery"))), nil).Once()

	top, err := e.TopRestaurants(context.Background(), center.Lat, center.Lng, testKey, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, top)
	assert.Equal(t, 1, e.Cache().Len())
}

func TestEngine_ProfilesAndCredentialsDoNotShareEntries(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, mock.Anything).
		Return(okResponse(place("a", 4.2, 200, withTypes("museum"))), nil)

	e := newTestEngine(t, client, nil)
	ctx := context.Background()

	_, err := e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 5)
	require.NoError(t, err)
	_, err = e.TopRestaurants(ctx, center.Lat, center.Lng, testKey, 5)
	require.NoError(t, err)
	_, err = e.TopAttractions(ctx, center.Lat, center.Lng, "other-key", 5)
	require.NoError(t, err)

	assert.Equal(t, 3, e.Cache().Len())
	assert.Equal(t, int64(3), e.Cache().Stats().Loads)
}

func TestEngine_CanceledPassLeavesNoEntry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ google.NearbySearchRequest) (*google.NearbySearchResponse, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}).Maybe()

	e := newTestEngine(t, client, nil)
	_, err := e.TopAttractions(ctx, center.Lat, center.Lng, testKey, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.Cache().Len())
}

func TestCacheKey(t *testing.T) {
	key := CacheKey(ProfileAttraction, Point{Lat: 48.8584, Lng: 2.2945}, 1500, "secret")
	assert.True(t, strings.HasPrefix(key, "attraction:48.858400,2.294500:1500:"))
	assert.NotContains(t, key, "secret")
	assert.Len(t, CredentialScope("secret"), 16)

	assert.Equal(t, key, CacheKey(ProfileAttraction, Point{Lat: 48.8584000001, Lng: 2.2945}, 1500, "secret"))
	assert.NotEqual(t, key, CacheKey(ProfileRestaurant, Point{Lat: 48.8584, Lng: 2.2945}, 1500, "secret"))
	assert.NotEqual(t, key, CacheKey(ProfileAttraction, Point{Lat: 48.8584, Lng: 2.2945}, 2000, "secret"))
	assert.NotEqual(t, key, CacheKey(ProfileAttraction, Point{Lat: 48.8584, Lng: 2.2945}, 1500, "other"))
}

func TestParseProfile(t *testing.T) {
	for _, in := range []string{"attraction", "attractions", " Attractions "} {
		p, err := ParseProfile(in)
		require.NoError(t, err)
		assert.Equal(t, ProfileAttraction, p)
	}
	p, err := ParseProfile("restaurants")
	require.NoError(t, err)
	assert.Equal(t, ProfileRestaurant, p)

	_, err = ParseProfile("hotels")
	assert.Error(t, err)
}
