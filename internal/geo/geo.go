// Package geo implements the spatial selection of geofences around a position.
package geo

import (
	"math"

	"github.com/Veraticus/fencewatch/internal/model"
)

// EarthRadiusMeters is the mean Earth radius used for all distance math.
const EarthRadiusMeters = 6371000.0

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = math.Pi * EarthRadiusMeters / 180

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b model.Position) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// EffectiveDistance is the distance from p to the edge of g, zero when p is inside.
func EffectiveDistance(p model.Position, g model.Geofence) float64 {
	return math.Max(0, Distance(p, g.Center())-float64(g.Radius))
}

// Inside reports whether p lies within the circle described by r.
func Inside(p model.Position, r model.Region) bool {
	return Distance(p, r.Center) <= float64(r.Radius)
}

// BoundingBoxAround returns the box extending meters in each cardinal
// direction from center. Longitudes wrap across the antimeridian, in which
// case MinLongitude is greater than MaxLongitude.
func BoundingBoxAround(center model.Position, meters float64) model.BoundingBox {
	latDelta := meters / metersPerDegree

	box := model.BoundingBox{
		MinLatitude:  math.Max(-90, center.Latitude-latDelta),
		MaxLatitude:  math.Min(90, center.Latitude+latDelta),
		MinLongitude: -180,
		MaxLongitude: 180,
	}

	// Near the poles every meridian is close; keep the full longitude range.
	if box.MinLatitude <= -90 || box.MaxLatitude >= 90 {
		return box
	}

	cosLat := math.Cos(toRad(center.Latitude))
	if cosLat < 1e-9 {
		return box
	}
	lonDelta := meters / (metersPerDegree * cosLat)
	if lonDelta >= 180 {
		return box
	}

	box.MinLongitude = wrapLongitude(center.Longitude - lonDelta)
	box.MaxLongitude = wrapLongitude(center.Longitude + lonDelta)
	return box
}

func wrapLongitude(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon > 180 {
		lon -= 360
	}
	return lon
}

// InBox reports whether p lies inside box, honoring antimeridian wrap.
func InBox(box model.BoundingBox, p model.Position) bool {
	if p.Latitude < box.MinLatitude || p.Latitude > box.MaxLatitude {
		return false
	}
	if box.MinLongitude <= box.MaxLongitude {
		return p.Longitude >= box.MinLongitude && p.Longitude <= box.MaxLongitude
	}
	return p.Longitude >= box.MinLongitude || p.Longitude <= box.MaxLongitude
}
