package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"

	"github.com/chaz8081/beaconbridge/internal/config"
	"github.com/chaz8081/beaconbridge/internal/decode"
)

// PubSubPublisher publishes readings to a Google Cloud Pub/Sub topic with
// the MAC as an attribute and, optionally, as ordering key.
type PubSubPublisher struct {
	client *pubsub.Client
	pub    *pubsub.Publisher
	cfg    config.PubSubConfig
	logger *slog.Logger
}

// NewPubSub creates the client and topic publisher. opts are passed to
// pubsub.NewClient (tests point it at an emulator).
func NewPubSub(ctx context.Context, cfg config.PubSubConfig, logger *slog.Logger, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("publish: pubsub client: %w", err)
	}

	pub := client.Publisher(cfg.Topic)
	pub.PublishSettings.DelayThreshold = 50 * time.Millisecond
	pub.PublishSettings.Timeout = 10 * time.Second
	pub.EnableMessageOrdering = cfg.Ordering

	logger = logger.With("component", "pubsub")
	logger.Info("pubsub publisher ready", "project", cfg.ProjectID, "topic", cfg.Topic, "ordering", cfg.Ordering)
	return &PubSubPublisher{client: client, pub: pub, cfg: cfg, logger: logger}, nil
}

// Publish sends r and waits for the server to acknowledge it.
func (p *PubSubPublisher) Publish(ctx context.Context, r decode.Reading) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"source": "beaconbridge",
			"mac":    r.MAC.String(),
			"format": r.Format,
		},
	}
	if p.cfg.Ordering {
		msg.OrderingKey = r.MAC.Compact()
	}

	id, err := p.pub.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish: pubsub topic %s: %w", p.cfg.Topic, err)
	}
	p.logger.Debug("published reading", "id", id, "bytes", len(data))
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.pub.Stop()
	return p.client.Close()
}
