package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGeofence(t *testing.T) {
	tests := []struct {
		fence   *model.Geofence
		wantErr error
		name    string
	}{
		{name: "valid", fence: &model.Geofence{Code: "a", Radius: 100, Latitude: 45, Longitude: 3}},
		{name: "nil", fence: nil, wantErr: ErrNilParameter},
		{name: "missing code", fence: &model.Geofence{Radius: 100}, wantErr: ErrInvalidGeofence},
		{name: "zero radius", fence: &model.Geofence{Code: "a"}, wantErr: ErrInvalidGeofence},
		{name: "negative radius", fence: &model.Geofence{Code: "a", Radius: -5}, wantErr: ErrInvalidGeofence},
		{name: "latitude out of range", fence: &model.Geofence{Code: "a", Radius: 100, Latitude: 91}, wantErr: ErrInvalidGeofence},
		{name: "NaN longitude", fence: &model.Geofence{Code: "a", Radius: 100, Longitude: math.NaN()}, wantErr: ErrInvalidGeofence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGeofence(tt.fence)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateDownload(t *testing.T) {
	valid := func() *model.Download {
		return &model.Download{SessionID: "s", Status: model.DownloadInProgress, StartedAt: time.Now()}
	}

	tests := []struct {
		mutate  func(d *model.Download)
		wantErr error
		name    string
	}{
		{name: "valid", mutate: func(*model.Download) {}},
		{name: "missing session", mutate: func(d *model.Download) { d.SessionID = "" }, wantErr: ErrInvalidDownload},
		{name: "unknown status", mutate: func(d *model.Download) { d.Status = "bogus" }, wantErr: ErrInvalidDownload},
		{name: "progress above one", mutate: func(d *model.Download) { d.Progress = 1.5 }, wantErr: ErrInvalidDownload},
		{name: "zero start", mutate: func(d *model.Download) { d.StartedAt = time.Time{} }, wantErr: ErrInvalidDownload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := validateDownload(d)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.ErrorIs(t, validateDownload(nil), ErrNilParameter)
}
