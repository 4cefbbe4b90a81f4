package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/chaz8081/beaconbridge/internal/config"
	"github.com/chaz8081/beaconbridge/internal/decode"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("publish: mqtt client not connected")

const publishTimeout = 5 * time.Second

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes readings as JSON to <topic_prefix>/<MAC>/state.
type MQTTPublisher struct {
	client mqttClient
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ClientID returns the configured client id with a random 8 character
// suffix so that several bridges can share one broker.
func ClientID(base string) string {
	return base + "_" + uuid.NewString()[:8]
}

// NewMQTT creates a publisher. Call Connect before publishing.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(ClientID(cfg.ClientID))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the initial broker connection. It respects ctx and Close.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publish: mqtt client stopped")
	default:
	}
	if p.IsConnected() {
		return nil
	}

	// With ConnectRetry the token only completes once a connection is up.
	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("publish: mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publish: mqtt client stopped")
		default:
		}
	}
}

// Publish sends r with the configured QoS and retained flag.
func (p *MQTTPublisher) Publish(ctx context.Context, r decode.Reading) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	topic := Topic(p.cfg.TopicPrefix, r.MAC)
	data, err := Encode(r)
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish: timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: topic %s: %w", topic, err)
	}

	p.logger.Debug("published reading", "topic", topic, "bytes", len(data))
	return nil
}

// IsConnected returns whether the broker link is up.
func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Close disconnects. It is idempotent; Connect fails afterwards.
func (p *MQTTPublisher) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.client.Disconnect(250)
		p.setConnected(false)
		p.logger.Info("mqtt disconnected")
	})
	return nil
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
