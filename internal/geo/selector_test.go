package geo

import (
	"fmt"
	"testing"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fence(code string, lat, lon float64, radius int) model.Geofence {
	return model.Geofence{Code: code, Name: code, Latitude: lat, Longitude: lon, Radius: radius}
}

func selectedCodes(fences []model.Geofence) []string {
	out := make([]string, len(fences))
	for i, f := range fences {
		out[i] = f.Code
	}
	return out
}

func TestSelect_NoPosition(t *testing.T) {
	_, err := Select(nil, []model.Geofence{fence("A", 0, 0, 100)}, 1000)
	assert.ErrorIs(t, err, ErrNoPosition)

	bad := &model.Position{Latitude: 120}
	_, err = Select(bad, nil, 1000)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestSelect_InvalidBoundingDistance(t *testing.T) {
	_, err := Select(&model.Position{}, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidBoundingDistance)
}

func TestSelect_OrdersByEdgeDistance(t *testing.T) {
	catalog := []model.Geofence{
		fence("far-small", 0, 0.02, 100),
		fence("near", 0, 0.005, 100),
		// Center is further than "near" but the large radius puts the edge closer.
		fence("big", 0, 0.008, 800),
		fence("outside-box", 1, 1, 100),
	}

	got, err := Select(&model.Position{}, catalog, 5_000)
	require.NoError(t, err)
	assert.Equal(t, []string{"big", "near", "far-small"}, selectedCodes(got))
}

func TestSelect_TieBreaksByCode(t *testing.T) {
	catalog := []model.Geofence{
		fence("c", 0, 0, 500),
		fence("a", 0.001, 0, 500),
		fence("b", -0.001, 0, 500),
	}

	// All three contain the position so every effective distance is zero.
	got, err := Select(&model.Position{}, catalog, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, selectedCodes(got))
}

func TestSelect_Deterministic(t *testing.T) {
	var catalog []model.Geofence
	for i := 0; i < 50; i++ {
		catalog = append(catalog, fence(fmt.Sprintf("F%02d", 49-i), float64(i%5)*0.001, float64(i%7)*0.001, 100+(i%3)*50))
	}
	pos := &model.Position{Latitude: 0.002, Longitude: 0.003}

	first, err := Select(pos, catalog, 2_000)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Select(pos, catalog, 2_000)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelect_DoesNotMutateCatalog(t *testing.T) {
	catalog := []model.Geofence{fence("b", 0, 0.001, 100), fence("a", 0, 0.002, 100)}
	before := append([]model.Geofence(nil), catalog...)

	_, err := Select(&model.Position{}, catalog, 1_000)
	require.NoError(t, err)
	assert.Equal(t, before, catalog)
}

func TestRank_ReportsDistances(t *testing.T) {
	catalog := []model.Geofence{fence("A", 0, 0, 200), fence("B", 0, 0.01, 200)}

	ranked, err := Rank(&model.Position{}, catalog, 10_000)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "A", ranked[0].Geofence.Code)
	assert.Zero(t, ranked[0].Distance)
	assert.InDelta(t, 912, ranked[1].Distance, 1)
}
