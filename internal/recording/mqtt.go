package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Event is the payload published on the lifecycle topic.
type Event struct {
	Event   string    `json:"event"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
}

// MQTT publishes recording lifecycle events to a broker topic.
type MQTT struct {
	cfg     MQTTConfig
	session string
	client  mqtt.Client
	log     *slog.Logger
	now     func() time.Time
}

func NewMQTT(cfg MQTTConfig, session string, log *slog.Logger) *MQTT {
	if log == nil {
		log = slog.Default()
	}
	return &MQTT{cfg: cfg, session: session, log: log, now: time.Now}
}

func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.log.Warn("mqtt connection lost", slog.String("broker", m.cfg.Broker), slog.Any("err", err))
	}

	m.client = mqtt.NewClient(opts)
	m.log.Info("connecting to mqtt broker", slog.String("broker", m.cfg.Broker))

	token := m.client.Connect()
	if !waitToken(ctx, token, 5*time.Second) {
		return fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (m *MQTT) BeginRecording(ctx context.Context) error { return m.publish(ctx, "begin") }
func (m *MQTT) EndRecording(ctx context.Context) error   { return m.publish(ctx, "end") }

func (m *MQTT) publish(ctx context.Context, kind string) error {
	if m.client == nil || !m.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(Event{Event: kind, Session: m.session, At: m.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, payload)
	if !waitToken(ctx, token, 2*time.Second) {
		return fmt.Errorf("mqtt publish %s: timeout", kind)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", kind, err)
	}
	m.log.Debug("recording event published", slog.String("topic", m.cfg.Topic), slog.String("event", kind))
	return nil
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, t mqtt.Token, limit time.Duration) bool {
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left < limit {
			limit = left
		}
	}
	return t.WaitTimeout(limit)
}
