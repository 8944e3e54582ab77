// Package discovery finds nearby attractions and restaurants through the
// Places Nearby Search API, filters and de-duplicates them, and ranks them by
// a weighted quality/diversity/locality score.
package discovery

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Profile selects which category set a discovery pass searches and how its
// results are scored.
type Profile string

// Supported profiles.
const (
	ProfileAttraction Profile = "attraction"
	ProfileRestaurant Profile = "restaurant"
)

// ParseProfile converts user input ("attractions", "restaurant", ...) to a Profile.
func ParseProfile(s string) (Profile, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case string(ProfileAttraction):
		return ProfileAttraction, nil
	case string(ProfileRestaurant):
		return ProfileRestaurant, nil
	default:
		return "", eris.Errorf("discovery: unknown profile %q", s)
	}
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Candidate is a place that survived filtering. Candidates are created fresh
// on every upstream fetch and never mutated afterwards.
type Candidate struct {
	PlaceID     string   `json:"place_id"`
	Name        string   `json:"name"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	Types       []string `json:"types"`
	Vicinity    string   `json:"vicinity,omitempty"`
	PriceLevel  *int     `json:"price_level,omitempty"`
	OpenNow     *bool    `json:"open_now,omitempty"`
	Location    Point    `json:"location"`
}

// ScoreBreakdown holds the sub-scores behind a composite score, each in [0, 100].
type ScoreBreakdown struct {
	Quality   float64 `json:"quality"`
	Diversity float64 `json:"diversity"`
	Locality  float64 `json:"locality"`
}

// ScoredCandidate is a ranked view of a Candidate. It is computed per query
// and never cached.
type ScoredCandidate struct {
	Candidate
	Score          float64        `json:"score"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	DistanceMeters float64        `json:"distance_meters"`
}
