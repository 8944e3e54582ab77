package discovery

import (
	"github.com/sells-group/placescout/pkg/google"
)

// Disqualification reason codes, in the order the rules are applied.
const (
	ReasonDuplicatePlace  = "duplicate_place"
	ReasonBlockedCategory = "blocked_category"
	ReasonNoRating        = "no_rating"
	ReasonFewReviews      = "few_reviews"
	ReasonNoLocation      = "no_location"
)

// DefaultMinReviewCount is the review count below which a place is dropped.
const DefaultMinReviewCount = 10

// Filter drops places failing the quality and category rules and removes
// duplicates across the per-type responses of one discovery pass.
type Filter struct {
	blocked    map[string]struct{}
	minReviews int
}

// FilterReport counts the outcome of one Apply call.
type FilterReport struct {
	Seen    int            `json:"seen"`
	Kept    int            `json:"kept"`
	Dropped map[string]int `json:"dropped"`
}

// NewFilter creates a Filter. minReviews <= 0 selects DefaultMinReviewCount.
func NewFilter(cats Categories, minReviews int) *Filter {
	if minReviews <= 0 {
		minReviews = DefaultMinReviewCount
	}
	return &Filter{
		blocked:    toSet(cats.Blocked),
		minReviews: minReviews,
	}
}

// Disqualify applies the filter rules to a single place. accepted holds the
// place IDs already kept in this pass.
// Returns true and the reason if the place should be skipped.
func (f *Filter) Disqualify(place google.NearbyPlace, profile Profile, accepted map[string]struct{}) (bool, string) {
	// 1. Already accepted from an earlier type.
	if _, dup := accepted[place.PlaceID]; dup {
		return true, ReasonDuplicatePlace
	}

	// 2. Commercial, service and dining tags never count as attractions.
	if profile == ProfileAttraction {
		for _, t := range place.Types {
			if _, blocked := f.blocked[t]; blocked {
				return true, ReasonBlockedCategory
			}
		}
	}

	// 3. Rating and review thresholds.
	if place.Rating == nil || *place.Rating <= 0 {
		return true, ReasonNoRating
	}
	if place.UserRatingsTotal == nil || *place.UserRatingsTotal < f.minReviews {
		return true, ReasonFewReviews
	}

	// 4. Coordinates.
	if place.Geometry == nil || place.Geometry.Location == nil {
		return true, ReasonNoLocation
	}

	return false, ""
}

// Apply filters the concatenation of per-type results in order. The first
// occurrence of a place ID wins; accepted IDs are tracked for this call only.
func (f *Filter) Apply(results [][]google.NearbyPlace, profile Profile) ([]Candidate, FilterReport) {
	report := FilterReport{Dropped: make(map[string]int)}
	accepted := make(map[string]struct{})
	var candidates []Candidate

	for _, batch := range results {
		for _, place := range batch {
			report.Seen++
			if dq, reason := f.Disqualify(place, profile, accepted); dq {
				report.Dropped[reason]++
				continue
			}
			accepted[place.PlaceID] = struct{}{}
			candidates = append(candidates, toCandidate(place))
		}
	}

	report.Kept = len(candidates)
	return candidates, report
}

func toCandidate(place google.NearbyPlace) Candidate {
	c := Candidate{
		PlaceID:     place.PlaceID,
		Name:        place.Name,
		Rating:      *place.Rating,
		ReviewCount: *place.UserRatingsTotal,
		Types:       append([]string(nil), place.Types...),
		Vicinity:    place.Vicinity,
		Location: Point{
			Lat: place.Geometry.Location.Lat,
			Lng: place.Geometry.Location.Lng,
		},
	}
	if place.PriceLevel != nil {
		level := *place.PriceLevel
		c.PriceLevel = &level
	}
	if place.OpeningHours != nil && place.OpeningHours.OpenNow != nil {
		open := *place.OpeningHours.OpenNow
		c.OpenNow = &open
	}
	return c
}
