package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestInit_NilContextErrors(t *testing.T) {
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoneExportersNoopShutdown(t *testing.T) {
	cfg := Config{
		ServiceName:    "test",
		TraceExporter:  "none",
		MetricExporter: "none",
	}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutExporters(t *testing.T) {
	cfg := Config{
		ServiceName:    "test",
		ServiceVersion: "dev",
		Environment:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "stdout",
	}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporterErrors(t *testing.T) {
	cfg := Config{TraceExporter: "carrier-pigeon", MetricExporter: "none"}
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg2 := Config{TraceExporter: "none", MetricExporter: "carrier-pigeon"}
	_, err = Init(context.Background(), cfg2)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusExporterExposesHandler(t *testing.T) {
	cfg := Config{TraceExporter: "none", MetricExporter: "prometheus"}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.NotNil(t, MetricsHandler())
}

func TestDefaultConfig_HasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sfvector-ingest", cfg.ServiceName)
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
}

func TestNewMetrics_RegistersEveryInstrument(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.NotNil(t, m.BridgeCallsTotal)
	assert.NotNil(t, m.RetryAttemptsTotal)
	assert.NotNil(t, m.RetryExhaustedTotal)
	assert.NotNil(t, m.CacheHitsTotal)
	assert.NotNil(t, m.ObjectsProcessedTotal)
	assert.NotNil(t, m.ChunksEmittedTotal)
	assert.NotNil(t, m.UploaderUpsertsTotal)
	assert.NotNil(t, m.QuotaWallTriggeredTotal)
	assert.NotNil(t, m.BridgeCallDuration)
	assert.NotNil(t, m.CacheMissesTotal)
	assert.NotNil(t, m.CacheWritesTotal)
	assert.NotNil(t, m.RateLimiterWaitDuration)
	assert.NotNil(t, m.UploaderDeletesTotal)
	assert.NotNil(t, m.UploaderBatchDuration)
}
