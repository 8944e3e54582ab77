package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// Nearby Search response status values.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// Client performs Google Places API operations.
type Client interface {
	NearbySearch(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error)
}

// NearbySearchRequest is a single-type Nearby Search query.
type NearbySearchRequest struct {
	Location LatLng
	Radius   int // meters
	Type     string
	Key      string
}

// NearbySearchResponse is the response from Places Nearby Search.
type NearbySearchResponse struct {
	Status       string        `json:"status"`
	Results      []NearbyPlace `json:"results"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// NearbyPlace represents a place returned by Nearby Search. Optional fields
// are pointers so that "absent" and "zero" can be told apart.
type NearbyPlace struct {
	PlaceID          string        `json:"place_id"`
	Name             string        `json:"name"`
	Rating           *float64      `json:"rating,omitempty"`
	UserRatingsTotal *int          `json:"user_ratings_total,omitempty"`
	Types            []string      `json:"types"`
	Vicinity         string        `json:"vicinity,omitempty"`
	PriceLevel       *int          `json:"price_level,omitempty"`
	OpeningHours     *OpeningHours `json:"opening_hours,omitempty"`
	Geometry         *Geometry     `json:"geometry,omitempty"`
}

// OpeningHours holds the open-now flag.
type OpeningHours struct {
	OpenNow *bool `json:"open_now,omitempty"`
}

// Geometry wraps the place location.
type Geometry struct {
	Location *LatLng `json:"location,omitempty"`
}

// LatLng is a geographic coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HTTPError is returned when the API answers with a non-200 HTTP status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("google: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client. The API key is supplied per
// request so one client can serve several credentials.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) NearbySearch(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error) {
	q := url.Values{}
	q.Set("location", strconv.FormatFloat(req.Location.Lat, 'f', -1, 64)+","+strconv.FormatFloat(req.Location.Lng, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(req.Radius))
	q.Set("type", req.Type)
	q.Set("key", req.Key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nearbysearch/json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Keep the key out of error messages and logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = c.baseURL + "/nearbysearch/json"
		}
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result NearbySearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return &result, nil
}
