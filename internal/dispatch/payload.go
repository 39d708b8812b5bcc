package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/fencewatch/internal/model"
)

// DetectedTimeLayout is ISO-8601 with milliseconds and a numeric offset.
const DetectedTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one crossing to report to the collector.
type Event struct {
	DetectedAt time.Time
	Code       string
	Name       string
	Crossing   model.Crossing
}

type eventData struct {
	GeofenceCode string `json:"geofenceCode"`
	GeofenceName string `json:"geofenceName,omitempty"`
	CrossingType string `json:"crossingType"`
}

type notification struct {
	Descriptor   string    `json:"descriptor"`
	DetectedTime string    `json:"detectedTime"`
	Data         eventData `json:"data"`
}

type payload struct {
	SDKVersion    string         `json:"sdkVersion"`
	Notifications []notification `json:"notifications"`
}

// EncodePayload renders the collector request body for events.
func EncodePayload(descriptor, sdkVersion string, events ...Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events to encode")
	}

	p := payload{
		SDKVersion:    sdkVersion,
		Notifications: make([]notification, 0, len(events)),
	}
	for _, e := range events {
		if e.Crossing != model.CrossingEnter && e.Crossing != model.CrossingExit {
			return nil, fmt.Errorf("invalid crossing type %q for geofence %s", e.Crossing, e.Code)
		}
		p.Notifications = append(p.Notifications, notification{
			Descriptor:   descriptor,
			DetectedTime: e.DetectedAt.Format(DetectedTimeLayout),
			Data: eventData{
				GeofenceCode: e.Code,
				GeofenceName: e.Name,
				CrossingType: string(e.Crossing),
			},
		})
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return data, nil
}
