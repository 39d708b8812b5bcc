package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fencewatch/internal/model"
)

type published struct {
	exchange string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declareErr error
	publishErr error
	declared   []string
	published  []published
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return c.declareErr
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	c.published = append(c.published, published{exchange: exchange, msg: msg})
	return c.publishErr
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestNewCrossingPublisher_DeclaresFanout(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewCrossingPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultExchange + ":fanout"}, ch.declared)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNewCrossingPublisher_DeclareFails(t *testing.T) {
	_, err := NewCrossingPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "x")
	require.ErrorContains(t, err, "access refused")
}

func TestCrossingPublisher_PublishesCrossings(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewCrossingPublisher(ch, "crossings")
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	fence := &model.Geofence{Code: "A", Name: "Office", Latitude: 48.85, Longitude: 2.35, Radius: 150}
	p.DidEnterGeofence(context.Background(), fence)
	p.DidExitGeofence(context.Background(), fence)
	p.DidEnterGeofence(context.Background(), nil)

	require.Len(t, ch.published, 2)
	assert.Equal(t, "crossings", ch.published[0].exchange)
	assert.Equal(t, "enter", ch.published[0].msg.Type)
	assert.Equal(t, "exit", ch.published[1].msg.Type)
	assert.JSONEq(t, `{
		"code":"A","name":"Office","crossing":"enter","detectedTime":"2026-03-01T12:00:00.000Z",
		"latitude":48.85,"longitude":2.35,"radius":150,"local":false
	}`, string(ch.published[0].msg.Body))
}

func TestCrossingPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := NewCrossingPublisher(ch, "crossings")
	require.NoError(t, err)

	err = p.Publish(context.Background(), &model.Geofence{Code: "A"}, model.CrossingEnter)
	require.Error(t, err)

	p.DidEnterGeofence(context.Background(), &model.Geofence{Code: "A"})
	assert.Len(t, ch.published, 2)
}
