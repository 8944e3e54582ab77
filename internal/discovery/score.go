package discovery

import (
	"cmp"
	"math"
	"slices"
)

// Composite weights per profile. Each set sums to 1.0.
const (
	attractionQualityWeight   = 0.4
	attractionDiversityWeight = 0.3
	attractionLocalityWeight  = 0.3

	restaurantQualityWeight  = 0.6
	restaurantLocalityWeight = 0.4
)

const (
	baseScore = 50.0

	uniqueTypeBoost   = 30.0
	maxFrequencyCut   = 20.0
	sweetSpotBoost    = 25.0
	touristTrapCut    = 20.0
	cheapPriceBoost   = 15.0
	premiumPriceCut   = 10.0
	sweetSpotMin      = 500
	sweetSpotMax      = 5000
	touristTrapReview = 50000
)

// DefaultLimit is the number of results TopN callers get when they do not ask.
const DefaultLimit = 10

// Scorer computes composite scores. It is pure and safe for concurrent use.
type Scorer struct {
	unique map[string]struct{}
}

// NewScorer creates a Scorer using the diversity-boost set from cats.
func NewScorer(cats Categories) *Scorer {
	return &Scorer{unique: toSet(cats.Unique)}
}

// Score scores every candidate for profile and returns them sorted by
// descending composite score. Equal scores keep their input order.
func (s *Scorer) Score(candidates []Candidate, profile Profile) []ScoredCandidate {
	var tagCounts map[string]int
	var maxTagCount int
	if profile == ProfileAttraction {
		tagCounts, maxTagCount = countTags(candidates)
	}

	scored := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		b := ScoreBreakdown{
			Quality:  Quality(c.Rating, c.ReviewCount),
			Locality: Locality(c.ReviewCount, c.PriceLevel),
		}

		var composite float64
		if profile == ProfileAttraction {
			b.Diversity = s.diversity(c, tagCounts, maxTagCount)
			composite = attractionQualityWeight*b.Quality +
				attractionDiversityWeight*b.Diversity +
				attractionLocalityWeight*b.Locality
		} else {
			composite = restaurantQualityWeight*b.Quality +
				restaurantLocalityWeight*b.Locality
		}

		scored[i] = ScoredCandidate{
			Candidate: c,
			Score:     round1(clamp(composite)),
			Breakdown: b,
		}
	}

	slices.SortStableFunc(scored, func(a, b ScoredCandidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return scored
}

// Quality rewards high ratings backed by many reviews:
// min(rating * log10(reviews+1) / 15 * 100, 100).
func Quality(rating float64, reviews int) float64 {
	if rating <= 0 || reviews <= 0 {
		return 0
	}
	return clamp(rating * math.Log10(float64(reviews)+1) / 15 * 100)
}

// Locality favours well-reviewed but not overrun places and modest prices.
func Locality(reviews int, priceLevel *int) float64 {
	score := baseScore
	if reviews >= sweetSpotMin && reviews <= sweetSpotMax {
		score += sweetSpotBoost
	}
	if reviews > touristTrapReview {
		score -= touristTrapCut
	}
	if priceLevel != nil {
		switch *priceLevel {
		case 1, 2:
			score += cheapPriceBoost
		case 4:
			score -= premiumPriceCut
		}
	}
	return clamp(score)
}

// diversity boosts unusual place types and penalises tags that dominate the
// result set.
func (s *Scorer) diversity(c Candidate, tagCounts map[string]int, maxTagCount int) float64 {
	score := baseScore

	for _, t := range c.Types {
		if _, ok := s.unique[t]; ok {
			score += uniqueTypeBoost
			break
		}
	}

	if maxTagCount > 0 {
		var own int
		for _, t := range c.Types {
			own = max(own, tagCounts[t])
		}
		score -= maxFrequencyCut * float64(own) / float64(maxTagCount)
	}

	return clamp(score)
}

// countTags counts, per tag, how many candidates carry it, and returns the
// highest such count.
func countTags(candidates []Candidate) (map[string]int, int) {
	counts := make(map[string]int)
	var highest int
	for _, c := range candidates {
		seen := make(map[string]struct{}, len(c.Types))
		for _, t := range c.Types {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			counts[t]++
			highest = max(highest, counts[t])
		}
	}
	return counts, highest
}

// TopN returns the first limit entries. Zero or a negative limit yields an
// empty slice.
func TopN(scored []ScoredCandidate, limit int) []ScoredCandidate {
	limit = max(limit, 0)
	if limit > len(scored) {
		limit = len(scored)
	}
	if limit == 0 {
		return []ScoredCandidate{}
	}
	return scored[:limit:limit]
}

func clamp(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
