// Package geo ranks points by great-circle distance from a reference point.
package geo

import (
	"math"
	"sort"
)

// EarthRadiusKm is the mean Earth radius used by the Haversine formula.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Candidate is a point tagged with the identifier of what sits there.
type Candidate struct {
	ID    string
	Point Point
}

// Ranked is a candidate annotated with its distance from the reference point.
type Ranked struct {
	ID         string  `json:"id"`
	Point      Point   `json:"point"`
	DistanceKm float64 `json:"distance"`
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// DistanceKm returns the great-circle distance between a and b in kilometres.
func DistanceKm(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Rank returns the candidates sorted ascending by distance from ref.
// Candidates at equal distance keep their input order.
func Rank(ref Point, candidates []Candidate) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Ranked{
			ID:         c.ID,
			Point:      c.Point,
			DistanceKm: DistanceKm(ref, c.Point),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}
