// Package model defines the core data structures used throughout the application.
package model

import (
	"math"
	"time"
)

// Position is a WGS84 coordinate in signed decimal degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the position is a usable coordinate.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Geofence is a named circular region kept in the local catalog.
type Geofence struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Radius    int       `json:"radius"`
	Monitored bool      `json:"monitored"`
	Local     bool      `json:"local"`
}

// Center returns the fence center as a Position.
func (g Geofence) Center() Position {
	return Position{Latitude: g.Latitude, Longitude: g.Longitude}
}

// Region returns the monitoring handle mirrored from the fence.
func (g Geofence) Region() Region {
	return Region{
		Identifier: g.Code,
		Center:     g.Center(),
		Radius:     g.Radius,
	}
}

// Region is what gets handed to the platform region monitor.
type Region struct {
	Identifier string   `json:"identifier"`
	Center     Position `json:"center"`
	Radius     int      `json:"radius"`
}

// BoundingBox is an axis-aligned latitude/longitude box.
type BoundingBox struct {
	MinLatitude  float64 `json:"min_latitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p Position) bool {
	return p.Latitude >= b.MinLatitude && p.Latitude <= b.MaxLatitude &&
		p.Longitude >= b.MinLongitude && p.Longitude <= b.MaxLongitude
}

// Crossing is the direction of a region boundary transition.
type Crossing string

// Crossing kinds.
const (
	CrossingEnter Crossing = "enter"
	CrossingExit  Crossing = "exit"
)

// RegionState is the result of a state determination for a region.
type RegionState string

// Region states.
const (
	RegionStateUnknown RegionState = "unknown"
	RegionStateInside  RegionState = "inside"
	RegionStateOutside RegionState = "outside"
)

// AuthorizationStatus mirrors the location permission granted to the client.
type AuthorizationStatus string

// Authorization statuses.
const (
	AuthorizationGranted       AuthorizationStatus = "granted"
	AuthorizationDenied        AuthorizationStatus = "denied"
	AuthorizationRestricted    AuthorizationStatus = "restricted"
	AuthorizationNotDetermined AuthorizationStatus = "not_determined"
)

// IsGranted reports whether background location monitoring may run.
func (s AuthorizationStatus) IsGranted() bool {
	return s == AuthorizationGranted
}
