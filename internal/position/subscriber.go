// Package position feeds device positions and location authorization
// changes from an MQTT topic into the geofence manager.
package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"

	"github.com/Veraticus/fencewatch/internal/geo"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
)

// Message kinds.
const (
	KindPosition      = "position"
	KindAuthorization = "authorization"
)

// DefaultTopic is where positions are published unless configured otherwise.
const DefaultTopic = "fencewatch/position"

var validate = validator.New()

// Message is one MQTT payload.
type Message struct {
	Latitude  *float64 `json:"latitude,omitempty" validate:"required_if=Kind position,omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" validate:"required_if=Kind position,omitempty,gte=-180,lte=180"`
	Kind      string   `json:"kind" validate:"required,oneof=position authorization"`
	Status    string   `json:"status,omitempty" validate:"required_if=Kind authorization,omitempty,oneof=granted denied restricted not_determined"`
	Timestamp int64    `json:"timestamp,omitempty" validate:"gte=0"`
}

// Position returns the coordinate carried by a position message.
func (m Message) Position() model.Position {
	var p model.Position
	if m.Latitude != nil {
		p.Latitude = *m.Latitude
	}
	if m.Longitude != nil {
		p.Longitude = *m.Longitude
	}
	return p
}

// Decode parses and validates a payload.
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid position message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return Message{}, fmt.Errorf("invalid position message: %w", err)
	}
	return msg, nil
}

// Sink receives decoded messages.
type Sink interface {
	UpdatePosition(ctx context.Context, pos model.Position) (monitor.Delta, error)
	HandleAuthorization(ctx context.Context, status model.AuthorizationStatus) error
}

// Subscriber forwards one topic to a Sink.
type Subscriber struct {
	client mqtt.Client
	sink   Sink
	topic  string
	qos    byte
}

// NewSubscriber creates a Subscriber. An empty topic means DefaultTopic.
func NewSubscriber(client mqtt.Client, topic string, sink Sink) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: client, sink: sink, topic: topic, qos: 1}
}

// Run subscribes and blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.Handle(ctx, msg.Payload()); err != nil {
			slog.Warn("Dropped position message", "topic", msg.Topic(), "error", err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
	}
	slog.Info("Subscribed to position feed", "topic", s.topic)

	<-ctx.Done()

	unsub := s.client.Unsubscribe(s.topic)
	if !unsub.WaitTimeout(5 * time.Second) {
		slog.Warn("Timed out unsubscribing from position feed", "topic", s.topic)
	}
	return nil
}

// Handle decodes one payload and forwards it.
func (s *Subscriber) Handle(ctx context.Context, payload []byte) error {
	msg, err := Decode(payload)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case KindAuthorization:
		return s.sink.HandleAuthorization(ctx, model.AuthorizationStatus(msg.Status))
	default:
		delta, err := s.sink.UpdatePosition(ctx, msg.Position())
		if err != nil {
			if errors.Is(err, geo.ErrNoPosition) {
				return fmt.Errorf("unusable position: %w", err)
			}
			return err
		}
		if !delta.Empty() {
			slog.Debug("Position changed monitored set", "start", delta.Start, "stop", delta.Stop)
		}
		return nil
	}
}

// BrokerConfig configures Connect.
type BrokerConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect dials the broker and waits for the session.
func Connect(cfg BrokerConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}
