package discovery

import (
	"fmt"
)

// ValidationError reports malformed input. It is returned before any
// network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("discovery: invalid %s: %s", e.Field, e.Reason)
}

// APIError reports an upstream failure: a transport error, an unparsable
// response or a status other than OK/ZERO_RESULTS. It aborts the whole pass.
type APIError struct {
	Op        string // "nearby_search"
	Type      string // place type being fetched, if any
	Status    string // upstream status, empty for transport failures
	Message   string
	Transient bool
	Err       error
}

func (e *APIError) Error() string {
	msg := "discovery: " + e.Op
	if e.Type != "" {
		msg += " type=" + e.Type
	}
	if e.Status != "" {
		msg += " status=" + e.Status
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a successful pass in which no candidate survived
// filtering.
type NotFoundError struct {
	Lat float64
	Lng float64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("discovery: no places found near %.6f,%.6f", e.Lat, e.Lng)
}
