package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/fencewatch/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidLimit    = errors.New("limit must be positive")
	ErrInvalidGeofence = errors.New("invalid geofence")
	ErrInvalidDownload = errors.New("invalid download")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateGeofence validates a single geofence row.
func validateGeofence(g *model.Geofence) error {
	if g == nil {
		return fmt.Errorf("%w: geofence", ErrNilParameter)
	}
	if strings.TrimSpace(g.Code) == "" {
		return fmt.Errorf("%w: missing code", ErrInvalidGeofence)
	}
	if g.Radius <= 0 {
		return fmt.Errorf("%w: radius must be positive, got %d", ErrInvalidGeofence, g.Radius)
	}
	if !g.Center().Valid() {
		return fmt.Errorf("%w: center (%f, %f) out of range", ErrInvalidGeofence, g.Latitude, g.Longitude)
	}
	return nil
}

// validateDownload validates a download record.
func validateDownload(d *model.Download) error {
	if d == nil {
		return fmt.Errorf("%w: download", ErrNilParameter)
	}
	if strings.TrimSpace(d.SessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidDownload)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDownload, d.Status)
	}
	if d.Progress < 0 || d.Progress > 1 {
		return fmt.Errorf("%w: progress %f outside [0,1]", ErrInvalidDownload, d.Progress)
	}
	if d.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidDownload)
	}
	return nil
}
