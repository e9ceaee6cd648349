package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/config"
)

func TestInit_Success(t *testing.T) {
	cfg := config.Observability{
		Enabled:     true,
		ServiceName: "test-service",
		TracingURL:  "localhost:4318", // Mock OTLP endpoint
	}

	shutdown, err := Init(cfg, zap.NewNop())
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	// Ensure the global tracer provider is the SDK one
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	shutdown()
}

func TestInit_Disabled(t *testing.T) {
	previous := otel.GetTracerProvider()

	shutdown, err := Init(config.Observability{}, zap.NewNop())
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)
	assert.Equal(t, previous, otel.GetTracerProvider())

	shutdown()
}

func TestInit_InvalidTracingURL(t *testing.T) {
	cfg := config.Observability{
		Enabled:     true,
		ServiceName: "test-service",
		TracingURL:  "", // Invalid endpoint
	}

	shutdown, err := Init(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestInit_EmptyServiceName(t *testing.T) {
	cfg := config.Observability{
		Enabled:     true,
		ServiceName: "",
		TracingURL:  "localhost:4318",
	}

	shutdown, err := Init(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}
