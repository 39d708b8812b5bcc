package geo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Veraticus/fencewatch/internal/model"
)

var (
	// ErrNoPosition means no position fix is available yet; callers skip the cycle.
	ErrNoPosition = errors.New("no position fix available")
	// ErrInvalidBoundingDistance is returned for non-positive bounding distances.
	ErrInvalidBoundingDistance = errors.New("bounding distance must be positive")
)

// Candidate is a geofence together with its effective distance.
type Candidate struct {
	Geofence model.Geofence
	Distance float64
}

// Rank filters catalog to the bounding box around position and orders
// the survivors by effective distance, then by code.
func Rank(position *model.Position, catalog []model.Geofence, boundingMeters float64) ([]Candidate, error) {
	if position == nil || !position.Valid() {
		return nil, ErrNoPosition
	}
	if boundingMeters <= 0 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidBoundingDistance, boundingMeters)
	}

	box := BoundingBoxAround(*position, boundingMeters)

	candidates := make([]Candidate, 0, len(catalog))
	for _, g := range catalog {
		if !InBox(box, g.Center()) {
			continue
		}
		candidates = append(candidates, Candidate{
			Geofence: g,
			Distance: EffectiveDistance(*position, g),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Geofence.Code < candidates[j].Geofence.Code
	})

	return candidates, nil
}

// Select returns the geofences around position ordered nearest edge first.
// It has no side effects and returns a fresh slice on every call.
func Select(position *model.Position, catalog []model.Geofence, boundingMeters float64) ([]model.Geofence, error) {
	candidates, err := Rank(position, catalog, boundingMeters)
	if err != nil {
		return nil, err
	}

	selected := make([]model.Geofence, len(candidates))
	for i, c := range candidates {
		selected[i] = c.Geofence
	}
	return selected, nil
}
