package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/plan"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no service", func(c *Config) { c.ServiceName = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggerInstallsZerologContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"})

	ctx := logger.WithRunID("run-1").WithContext(context.Background())
	zerolog.Ctx(ctx).Info().Msg("hello")

	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
	assert.Equal(t, zerolog.DebugLevel, FromContext(ctx).Zerolog().GetLevel())
}

func TestFromContextWithoutLogger(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info("discarded")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nix_installer.prom")
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "nix_installer", TextfilePath: path})
	require.NoError(t, err)

	m.RecordRunStarted("execute")
	m.RecordAction("fetch_nix", "execute", "failed", 2*time.Second)
	m.RecordRunCompleted("execute", "failed", 3*time.Second)
	require.NoError(t, m.WriteTextfile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nix_installer_actions_total{kind="fetch_nix",operation="execute",status="failed"} 1`)
	assert.Contains(t, string(data), `nix_installer_runs_completed_total{operation="execute",status="failed"} 1`)
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{TextfilePath: filepath.Join(t.TempDir(), "x.prom")})
	require.NoError(t, err)

	m.RecordRunStarted("execute")
	m.RecordAction("fetch_nix", "execute", "succeeded", time.Second)
	require.NoError(t, m.WriteTextfile())

	mfs, err := m.Gather()
	require.NoError(t, err)
	assert.Empty(t, mfs)
}

func newRecordingTelemetry(t *testing.T) (*Telemetry, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	metrics, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	return &Telemetry{
		Logger:  NewLoggerTo(&bytes.Buffer{}, LoggingConfig{Level: "info", Format: "json"}),
		Tracer:  &Tracer{provider: provider, tracer: provider.Tracer("test")},
		Metrics: metrics,
		Config:  DefaultConfig(),
	}, rec
}

func TestRunObserverRecordsSpans(t *testing.T) {
	tel, rec := newRecordingTelemetry(t)

	ctx, run := tel.StartRun(context.Background(), "run-1", "plan-1", "execute")
	obs := run.Observer()

	ev := plan.Event{Index: 0, Kind: actions.KindCreateNixTreeDirs, Operation: actions.OperationExecute}
	actx := obs.ActionStarted(ctx, ev)
	ev.State = actions.StateCompleted
	require.NoError(t, obs.ActionFinished(actx, ev))

	ev = plan.Event{Index: 1, Kind: actions.KindFetchNix, Operation: actions.OperationExecute}
	actx = obs.ActionStarted(ctx, ev)
	ev.State = actions.StatePlanned
	ev.Err = errors.New("download failed")
	require.NoError(t, obs.ActionFinished(actx, ev))

	run.End(ev.Err)

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "action.execute", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "plan.execute", spans[2].Name())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())

	mfs, err := tel.Metrics.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_actions_total"])
	assert.True(t, names["test_runs_completed_total"])
}
