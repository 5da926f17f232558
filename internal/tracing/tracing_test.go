package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap/zaptest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("collector:4318")
	assert.Equal(t, ServiceName, cfg.ServiceName)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.NoError(t, cfg.validate())
}

func TestSetup_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no endpoint", cfg: Config{SampleRatio: 1}},
		{name: "negative ratio", cfg: Config{OTLPEndpoint: "localhost:4318", SampleRatio: -0.5}},
		{name: "ratio above one", cfg: Config{OTLPEndpoint: "localhost:4318", SampleRatio: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Setup(context.Background(), tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestSetup(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	logger := zaptest.NewLogger(t)
	// The exporter connects lazily, so no collector is needed.
	shutdown, err := Setup(context.Background(), DefaultConfig("127.0.0.1:4318"), logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(context.Background(), "unit")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// Flushing fails without a collector; only the call matters here.
	_ = Shutdown(shutdown, 100*time.Millisecond, logger)
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, Shutdown(nil, time.Second, nil))

	called := false
	err := Shutdown(func(ctx context.Context) error {
		called = true
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	}, time.Second, nil)
	assert.NoError(t, err)
	assert.True(t, called)

	boom := errors.New("boom")
	assert.ErrorIs(t, Shutdown(func(context.Context) error { return boom }, time.Second, nil), boom)
}
