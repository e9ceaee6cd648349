package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/config"
)

// NewBroker builds the publisher selected by cfg.Type. An empty type or
// "none" disables event publishing.
func NewBroker(ctx context.Context, cfg *config.BrokerSettings, logger *zap.Logger) (MessageBroker, error) {
	switch cfg.Type {
	case "", "none":
		return NewNopBroker(), nil
	case "rabbitmq":
		return NewRabbitMqBroker(ctx, cfg, logger)
	case "gcp-pubsub", "pubsub":
		return NewPubSubClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBroker, cfg.Type)
	}
}
