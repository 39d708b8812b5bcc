// Package publish republishes geofence crossings to a RabbitMQ fanout
// exchange.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Veraticus/fencewatch/internal/dispatch"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"
)

// DefaultExchange receives crossings unless configured otherwise.
const DefaultExchange = "fencewatch.crossings"

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// CrossingPublisher implements service.GeofenceObserver.
type CrossingPublisher struct {
	ch       Channel
	now      func() time.Time
	exchange string
}

var _ service.GeofenceObserver = (*CrossingPublisher)(nil)

// NewCrossingPublisher declares the fanout exchange on ch.
func NewCrossingPublisher(ch Channel, exchange string) (*CrossingPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &CrossingPublisher{ch: ch, now: time.Now, exchange: exchange}, nil
}

// Dial connects to url and opens a channel. The returned close function
// releases both.
func Dial(url string) (*amqp.Channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return ch, func() error {
		_ = ch.Close()
		return conn.Close()
	}, nil
}

type crossingMessage struct {
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Crossing     model.Crossing `json:"crossing"`
	DetectedTime string         `json:"detectedTime"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Radius       int            `json:"radius"`
	Local        bool           `json:"local"`
}

// DidEnterGeofence implements service.GeofenceObserver.
func (p *CrossingPublisher) DidEnterGeofence(ctx context.Context, geofence *model.Geofence) {
	p.publish(ctx, geofence, model.CrossingEnter)
}

// DidExitGeofence implements service.GeofenceObserver.
func (p *CrossingPublisher) DidExitGeofence(ctx context.Context, geofence *model.Geofence) {
	p.publish(ctx, geofence, model.CrossingExit)
}

func (p *CrossingPublisher) publish(ctx context.Context, geofence *model.Geofence, crossing model.Crossing) {
	if geofence == nil {
		slog.Debug("Not publishing crossing for unknown region", "crossing", crossing)
		return
	}
	if err := p.Publish(ctx, geofence, crossing); err != nil {
		slog.Error("Failed to publish crossing", "code", geofence.Code, "crossing", crossing, "error", err)
	}
}

// Publish sends one crossing to the exchange.
func (p *CrossingPublisher) Publish(ctx context.Context, geofence *model.Geofence, crossing model.Crossing) error {
	body, err := json.Marshal(crossingMessage{
		Code:         geofence.Code,
		Name:         geofence.Name,
		Crossing:     crossing,
		DetectedTime: p.now().Format(dispatch.DetectedTimeLayout),
		Latitude:     geofence.Latitude,
		Longitude:    geofence.Longitude,
		Radius:       geofence.Radius,
		Local:        geofence.Local,
	})
	if err != nil {
		return fmt.Errorf("marshal crossing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(crossing),
		Timestamp:    p.now(),
		Body:         body,
	})
}

// Close closes the channel.
func (p *CrossingPublisher) Close() error {
	return p.ch.Close()
}
