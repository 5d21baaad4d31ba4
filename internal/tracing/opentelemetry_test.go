package tracing

import (
	"context"
	"errors"
	"testing"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDefaultTracingConfig(t *testing.T) {
	config := DefaultTracingConfig()

	assert.Equal(t, "chatsync", config.ServiceName)
	assert.Equal(t, "dev", config.ServiceVersion)
	assert.Equal(t, 0.1, config.SampleRate)
	assert.False(t, config.Enabled)
	assert.True(t, config.UseStdout)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      models.TracingConfig
		expectError bool
	}{
		{"disabled skips validation", models.TracingConfig{}, false},
		{"stdout", models.TracingConfig{Enabled: true, ServiceName: "chatsync", SampleRate: 1, UseStdout: true}, false},
		{"otlp", models.TracingConfig{Enabled: true, ServiceName: "chatsync", SampleRate: 0.5, OTLPEndpoint: "http://localhost:4318/v1/traces"}, false},
		{"missing service name", models.TracingConfig{Enabled: true, UseStdout: true}, true},
		{"sample rate too high", models.TracingConfig{Enabled: true, ServiceName: "chatsync", SampleRate: 1.5, UseStdout: true}, true},
		{"otlp without endpoint", models.TracingConfig{Enabled: true, ServiceName: "chatsync", SampleRate: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_DisabledIsNoop(t *testing.T) {
	m := NewManager(models.TracingConfig{}, quietLogger())

	require.NoError(t, m.Initialize(context.Background()))
	assert.Nil(t, m.tracerProvider)
	assert.NoError(t, m.Shutdown(context.Background()))

	var nilManager *Manager
	assert.NoError(t, nilManager.Shutdown(context.Background()))
}

func TestManager_StdoutLifecycle(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.SampleRate = 1
	m := NewManager(cfg, quietLogger())

	require.NoError(t, m.Initialize(context.Background()))
	assert.NotNil(t, m.tracerProvider)
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Nil(t, m.tracerProvider)
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tracer := provider.Tracer(TracerName)
	ctx, span := tracer.Start(context.Background(), "sync.conversation")

	AddSpanAttributes(ctx, ConversationAttr("65f0aaaa_65f1bbbb"), MessageAttr("12345678"))
	RecordError(ctx, nil)
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	EndSpan(span, errors.New("remote fetch failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "****aaaa_****bbbb", attrs[string(AttrConversationID)])
	assert.Equal(t, "****5678", attrs[string(AttrMessageID)])
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
