package config

import "time"

// DeliverySettings configures the email provider client.
type DeliverySettings struct {
	APIKey      string        `mapstructure:"api_key" validate:"required"`
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	FromAddress string        `mapstructure:"from_address" validate:"required,email"`
	FromName    string        `mapstructure:"from_name" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit   int           `mapstructure:"rate_limit" validate:"gte=1"`
	RateWindow  time.Duration `mapstructure:"rate_window" validate:"gt=0"`
}

type SchedulerSettings struct {
	TickInterval    time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	MaxConcurrency  int           `mapstructure:"max_concurrency" validate:"gte=1"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff" validate:"gt=0"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" validate:"gtefield=BaseBackoff"`
	Retention       time.Duration `mapstructure:"retention" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
}

// CaptureSettings switches delivery to the in-memory capture harness.
type CaptureSettings struct {
	Enabled  bool `mapstructure:"enabled"`
	Capacity int  `mapstructure:"capacity" validate:"gte=1"`
}
