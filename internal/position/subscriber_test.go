package position

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
)

type recordingSink struct {
	positionErr error
	positions   []model.Position
	statuses    []model.AuthorizationStatus
}

func (s *recordingSink) UpdatePosition(_ context.Context, pos model.Position) (monitor.Delta, error) {
	s.positions = append(s.positions, pos)
	return monitor.Delta{Start: []string{"A"}}, s.positionErr
}

func (s *recordingSink) HandleAuthorization(_ context.Context, status model.AuthorizationStatus) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "position", payload: `{"kind":"position","latitude":48.85,"longitude":2.35}`},
		{name: "position at origin", payload: `{"kind":"position","latitude":0,"longitude":0}`},
		{name: "authorization", payload: `{"kind":"authorization","status":"denied"}`},
		{name: "not json", payload: `nope`, wantErr: true},
		{name: "missing kind", payload: `{"latitude":1,"longitude":1}`, wantErr: true},
		{name: "unknown kind", payload: `{"kind":"beacon"}`, wantErr: true},
		{name: "missing longitude", payload: `{"kind":"position","latitude":1}`, wantErr: true},
		{name: "latitude out of range", payload: `{"kind":"position","latitude":91,"longitude":0}`, wantErr: true},
		{name: "longitude out of range", payload: `{"kind":"position","latitude":0,"longitude":-181}`, wantErr: true},
		{name: "missing status", payload: `{"kind":"authorization"}`, wantErr: true},
		{name: "unknown status", payload: `{"kind":"authorization","status":"maybe"}`, wantErr: true},
		{name: "negative timestamp", payload: `{"kind":"position","latitude":0,"longitude":0,"timestamp":-1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscriber_HandleForwards(t *testing.T) {
	sink := &recordingSink{}
	s := NewSubscriber(nil, "", sink)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, []byte(`{"kind":"position","latitude":48.85,"longitude":2.35}`)))
	require.NoError(t, s.Handle(ctx, []byte(`{"kind":"authorization","status":"granted"}`)))

	require.Len(t, sink.positions, 1)
	assert.InDelta(t, 48.85, sink.positions[0].Latitude, 1e-9)
	assert.InDelta(t, 2.35, sink.positions[0].Longitude, 1e-9)
	assert.Equal(t, []model.AuthorizationStatus{model.AuthorizationGranted}, sink.statuses)
	assert.Equal(t, DefaultTopic, s.topic)
}

func TestSubscriber_HandleRejectsInvalid(t *testing.T) {
	sink := &recordingSink{}
	s := NewSubscriber(nil, "devices/1", sink)

	require.Error(t, s.Handle(context.Background(), []byte(`{"kind":"position","latitude":100,"longitude":0}`)))
	assert.Empty(t, sink.positions)
}

func TestSubscriber_HandleSurfacesSinkError(t *testing.T) {
	sink := &recordingSink{positionErr: errors.New("not authorized")}
	s := NewSubscriber(nil, "", sink)

	err := s.Handle(context.Background(), []byte(`{"kind":"position","latitude":1,"longitude":1}`))
	require.EqualError(t, err, "not authorized")
}
