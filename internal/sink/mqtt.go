package sink

import (
	"context"
	"errors"

	"airquality-node/internal/mqtt"
	"airquality-node/internal/reading"
)

// Publisher is the MQTT connection the sink drives.
type Publisher interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

type MQTTOptions struct {
	Device      string
	TopicPrefix string
	// RequireTimeSync gates publishing on a valid wall clock.
	RequireTimeSync bool
}

type MQTT struct {
	opts  MQTTOptions
	pub   Publisher
	topic string
}

func NewMQTT(o MQTTOptions, pub Publisher) *MQTT {
	return &MQTT{opts: o, pub: pub, topic: Topic(o.TopicPrefix, o.Device)}
}

// Topic is the telemetry topic for device.
func Topic(prefix, device string) string {
	if prefix == "" {
		return device + "/telemetry"
	}
	return prefix + "/" + device + "/telemetry"
}

func (s *MQTT) Name() string { return "mqtt" }

func (s *MQTT) Topic() string { return s.topic }

func (s *MQTT) Requires() Requirements {
	return Requirements{Link: true, Clock: s.opts.RequireTimeSync}
}

// Publish sends one JSON snapshot. When disconnected it makes a single
// bounded connect attempt first.
func (s *MQTT) Publish(ctx context.Context, r reading.Reading) error {
	payload, err := EncodeJSON(s.opts.Device, r)
	if err != nil {
		return &PublishError{Sink: s.Name(), Kind: ErrEncode, Err: err}
	}

	if !s.pub.IsConnected() {
		if err := s.pub.Connect(ctx); err != nil {
			return &PublishError{Sink: s.Name(), Kind: classifyMQTT(err), Err: err}
		}
	}

	if err := s.pub.Publish(ctx, s.topic, payload); err != nil {
		return &PublishError{Sink: s.Name(), Kind: classifyMQTT(err), Err: err}
	}
	return nil
}

func classifyMQTT(err error) error {
	switch {
	case mqtt.IsAuthError(err):
		return ErrAuth
	case errors.Is(err, mqtt.ErrTimeout), isTimeout(err):
		return ErrTimeout
	default:
		return ErrNetwork
	}
}

var _ Sink = (*MQTT)(nil)
