// Package feed parses the backend geofence feed, a GeoJSON FeatureCollection
// of Point features, into validated geofence records.
package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire names.
const (
	TypeFeatureCollection = "FeatureCollection"
	TypeFeature           = "Feature"
	GeometryPoint         = "Point"

	PropertyCode    = "@code"
	PropertyOrg     = "@org"
	PropertyDeleted = "@deleted"
	PropertyName    = "name"
	PropertyRadius  = "radius"
)

// Defaults applied to features lacking a name or radius.
const (
	DefaultName   = "???!!!"
	DefaultRadius = 100
)

type rawCollection struct {
	Type       *string               `json:"type"`
	Properties *collectionProperties `json:"properties"`
	Features   *[]json.RawMessage    `json:"features"`
	Deleted    []string              `json:"deleted"`
	Errors     []json.RawMessage     `json:"errors"`
}

type collectionProperties struct {
	TotalFeatures *int         `json:"totalFeatures"`
	PageSize      *int         `json:"pageSize"`
	UpdatedBefore *json.Number `json:"updatedBefore"`
}

type rawFeature struct {
	Type       *string        `json:"type"`
	Geometry   *rawGeometry   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type rawGeometry struct {
	Type        *string   `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Properties is what a PropertiesGenerator derives from raw feature properties.
type Properties struct {
	Name   string
	Code   string
	Radius int
	Local  bool
}

// PropertiesGenerator overrides how name, radius and code are read from a
// feature. An empty Code rejects the feature.
type PropertiesGenerator func(properties map[string]any) Properties

func epochSeconds(n json.Number) (time.Time, error) {
	if i, err := n.Int64(); err == nil {
		return time.Unix(i, 0).UTC(), nil
	}
	f, err := n.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch %q: %w", n, err)
	}
	return time.Unix(int64(f), 0).UTC(), nil
}

func backendMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Code != "" {
			return obj.Code + ": " + obj.Message
		}
		return obj.Message
	}
	return string(raw)
}
