package config

// BrokerSettings holds configuration for the job lifecycle event publisher.
type BrokerSettings struct {
	Type      string `mapstructure:"type" validate:"omitempty,oneof=none rabbitmq gcp-pubsub"`
	URL       string `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange  string `mapstructure:"exchange" validate:"required_if=Type rabbitmq"`
	ProjectID string `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"` // GCP Pub/Sub only
	Topic     string `mapstructure:"topic" validate:"required_if=Type gcp-pubsub"`
	PoolSize  int    `mapstructure:"pool_size" validate:"gte=0"`
}
