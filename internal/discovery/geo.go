package discovery

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// FeatureCollection renders ranked places as GeoJSON Point features, in rank
// order, for map markers.
func FeatureCollection(scored []ScoredCandidate) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(scored))}
	for i, sc := range scored {
		pt := geom.NewPointFlat(geom.XY, []float64{sc.Location.Lng, sc.Location.Lat})

		props := map[string]any{
			"rank":            i + 1,
			"name":            sc.Name,
			"score":           sc.Score,
			"quality":         sc.Breakdown.Quality,
			"diversity":       sc.Breakdown.Diversity,
			"locality":        sc.Breakdown.Locality,
			"rating":          sc.Rating,
			"review_count":    sc.ReviewCount,
			"types":           sc.Types,
			"distance_meters": math.Round(sc.DistanceMeters),
		}
		if sc.Vicinity != "" {
			props["vicinity"] = sc.Vicinity
		}
		if sc.PriceLevel != nil {
			props["price_level"] = *sc.PriceLevel
		}
		if sc.OpenNow != nil {
			props["open_now"] = *sc.OpenNow
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         sc.PlaceID,
			Geometry:   pt,
			Properties: props,
		})
	}
	return fc
}
