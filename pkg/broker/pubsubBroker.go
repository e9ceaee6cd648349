package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-notify/pkg/config"
)

// PubSubBrokerCreator defines a function type for creating Pub/Sub clients.
type PubSubBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error)

// NewPubSubClient is the default implementation of PubSubBrokerCreator.
var NewPubSubClient PubSubBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Pub/Sub: %w", err)
	}
	topic := client.Topic(settings.Topic)
	// Events of one job share an ordering key.
	topic.EnableMessageOrdering = true
	return &pubSubBroker{client: client, topic: topic}, nil
}

type pubSubBroker struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (p *pubSubBroker) Publish(ctx context.Context, event *JobEvent) error {
	tracer := otel.Tracer("go-notify")
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic.ID()),
		),
	)
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Inject the trace context into the message attributes
	attributes := map[string]string{
		"event":  string(event.Event),
		"job_id": event.JobID,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        payload,
		Attributes:  attributes,
		OrderingKey: event.JobID,
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		p.topic.ResumePublish(event.JobID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

func (p *pubSubBroker) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
