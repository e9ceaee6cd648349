package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "NOTIFY"

type Settings struct {
	Store           StoreSettings     `mapstructure:"store"`
	Delivery        DeliverySettings  `mapstructure:"delivery"`
	Scheduler       SchedulerSettings `mapstructure:"scheduler"`
	Capture         CaptureSettings   `mapstructure:"capture"`
	Events          BrokerSettings    `mapstructure:"events"`
	Observability   Observability     `mapstructure:"observability"`
	API             APISettings       `mapstructure:"api"`
	Log             LogSettings       `mapstructure:"log"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// APISettings configures the admin HTTP surface.
type APISettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

type LogSettings struct {
	Development bool `mapstructure:"development"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// keys lists every setting that can be overridden from the environment,
// e.g. NOTIFY_DELIVERY_API_KEY for delivery.api_key.
var keys = []string{
	"store.type",
	"store.dsn",
	"store.uri",
	"store.database",
	"store.collection",
	"store.table",
	"delivery.api_key",
	"delivery.base_url",
	"delivery.from_address",
	"delivery.from_name",
	"delivery.timeout",
	"delivery.rate_limit",
	"delivery.rate_window",
	"scheduler.tick_interval",
	"scheduler.max_concurrency",
	"scheduler.max_attempts",
	"scheduler.attempt_timeout",
	"scheduler.base_backoff",
	"scheduler.max_backoff",
	"scheduler.retention",
	"scheduler.cleanup_interval",
	"capture.enabled",
	"capture.capacity",
	"events.type",
	"events.url",
	"events.exchange",
	"events.project_id",
	"events.topic",
	"events.pool_size",
	"observability.enabled",
	"observability.service_name",
	"observability.tracing_url",
	"api.enabled",
	"api.addr",
	"log.development",
	"shutdown_timeout",
}

func setDefaults() {
	viper.SetDefault("store.type", "memory")
	viper.SetDefault("store.database", "notify")
	viper.SetDefault("store.collection", "notification_jobs")
	viper.SetDefault("store.table", "notification_jobs")

	viper.SetDefault("delivery.base_url", "https://api.resend.com")
	viper.SetDefault("delivery.timeout", 15*time.Second)
	viper.SetDefault("delivery.rate_limit", 100)
	viper.SetDefault("delivery.rate_window", time.Minute)

	viper.SetDefault("scheduler.tick_interval", time.Second)
	viper.SetDefault("scheduler.max_concurrency", 5)
	viper.SetDefault("scheduler.max_attempts", 3)
	viper.SetDefault("scheduler.attempt_timeout", 30*time.Second)
	viper.SetDefault("scheduler.base_backoff", time.Second)
	viper.SetDefault("scheduler.max_backoff", 30*time.Second)
	viper.SetDefault("scheduler.retention", 24*time.Hour)
	viper.SetDefault("scheduler.cleanup_interval", time.Hour)

	viper.SetDefault("capture.enabled", false)
	viper.SetDefault("capture.capacity", 1000)

	viper.SetDefault("events.type", "none")
	viper.SetDefault("events.exchange", "notifications")
	viper.SetDefault("events.topic", "notification-events")
	viper.SetDefault("events.pool_size", 5)

	viper.SetDefault("observability.service_name", "notify-sidecar")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.addr", ":8080")

	viper.SetDefault("shutdown_timeout", 10*time.Second)
}

// LoadFromFile reads sidecar.yaml from filePath, merges the
// sidecar.<ENVIRONMENT>.yaml overlay when present, applies NOTIFY_*
// environment variables and validates the result.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	setDefaults()
	viper.SetConfigType("yaml")
	viper.SetConfigName("sidecar")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, err
	}

	if err := mergeConfig(filePath, "sidecar."+env); err != nil && !isNotFound(err) {
		return nil, err
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range keys {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	return viper.Unmarshal(c)
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	return viper.MergeInConfig()
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
