package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sells-group/placescout/internal/discovery"
	"github.com/sells-group/placescout/internal/resilience"
)

const (
	formatJSON    = "json"
	formatGeoJSON = "geojson"
)

// TopResponse is the JSON body of a successful top-N query.
type TopResponse struct {
	Profile discovery.Profile           `json:"profile"`
	Center  discovery.Point             `json:"center"`
	Count   int                         `json:"count"`
	Results []discovery.ScoredCandidate `json:"results"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type topQuery struct {
	center discovery.Point
	limit  int
	format string
}

func (s *Server) handleTop(profile discovery.Profile) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.parseTopQuery(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		credential := r.Header.Get(CredentialHeader)
		if credential == "" {
			credential = s.opts.DefaultCredential
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()

		top, err := s.ranker.Top(ctx, profile, q.center, credential, q.limit)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if q.format == formatGeoJSON {
			writeJSON(w, http.StatusOK, "application/geo+json", discovery.FeatureCollection(top))
			return
		}
		writeJSON(w, http.StatusOK, "application/json", TopResponse{
			Profile: profile,
			Center:  q.center,
			Count:   len(top),
			Results: top,
		})
	}
}

func (s *Server) parseTopQuery(r *http.Request) (topQuery, error) {
	values := r.URL.Query()
	q := topQuery{limit: s.opts.DefaultLimit, format: formatJSON}

	lat, err := parseFloatParam(values.Get("lat"), "lat")
	if err != nil {
		return q, err
	}
	lng, err := parseFloatParam(values.Get("lng"), "lng")
	if err != nil {
		return q, err
	}
	q.center = discovery.Point{Lat: lat, Lng: lng}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, &discovery.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		q.limit = n
	}

	if raw := strings.ToLower(values.Get("format")); raw != "" {
		if raw != formatJSON && raw != formatGeoJSON {
			return q, &discovery.ValidationError{Field: "format", Reason: "must be json or geojson"}
		}
		q.format = raw
	}

	return q, nil
}

func parseFloatParam(raw, field string) (float64, error) {
	if raw == "" {
		return 0, &discovery.ValidationError{Field: field, Reason: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &discovery.ValidationError{Field: field, Reason: "must be a number"}
	}
	return v, nil
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", s.stats.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.breaker != nil {
		state := s.breaker.State()
		body["circuit"] = state.String()
		if state == resilience.CircuitOpen {
			body["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, "application/json", body)
}

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) (int, bool) {
	var (
		valErr *discovery.ValidationError
		nfErr  *discovery.NotFoundError
		apiErr *discovery.APIError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, false
	case errors.As(err, &nfErr):
		return http.StatusNotFound, false
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, apiErr.Transient
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, false
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, retryable := statusFor(err)
	reqID := chimiddleware.GetReqID(r.Context())

	msg := err.Error()
	switch status {
	case http.StatusBadGateway:
		msg = "upstream places service failed, try again later"
	case http.StatusGatewayTimeout:
		msg = "request timed out"
	case http.StatusInternalServerError:
		msg = "internal error"
	}

	log := zap.L().With(
		zap.String("component", "api"),
		zap.String("request_id", reqID),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
	)
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Error(err))
	}

	writeJSON(w, status, "application/json", ErrorResponse{
		Error:     msg,
		Retryable: retryable,
		RequestID: reqID,
	})
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
