package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	core, err := newCoreWithWriter(cfg, nil, &buf)
	require.NoError(t, err)
	return &Logger{zap: zap.New(core)}, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")
}

func TestLogger_ContextFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := newBufferLogger(t, cfg)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithActor(ctx, "U123")
	logger.Info(ctx, "document added", zap.String("title", "Doc A"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "document added", lines[0]["msg"])
	assert.Equal(t, "req-1", lines[0]["request.id"])
	assert.Equal(t, "U123", lines[0]["actor"])
	assert.Equal(t, "Doc A", lines[0]["title"])
}

func TestNewLogger_ExportsToOTEL(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Output = OutputConfig{OTEL: true}

	logger, err := NewLogger(cfg, tt.LoggerProvider())
	require.NoError(t, err)

	logger.Info(WithActor(context.Background(), "U123"), "document added", zap.String("title", "Doc A"))

	records := tt.LogRecorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "document added", records[0].Body().AsString())
	attrs := map[string]string{}
	records[0].WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	assert.Equal(t, "U123", attrs["actor"])
	assert.Equal(t, "Doc A", attrs["title"])
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := newBufferLogger(t, cfg)

	logger.Info(context.Background(), "calling provider",
		zap.String("api_key", "sk-live-123"),
		zap.String("header", "Bearer abc.def"),
		Secret("token", config.Secret("abcd")),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-live-123")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "abcd\"")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
}

func TestLogger_TraceLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Level = TraceLevel
	logger, buf := newBufferLogger(t, cfg)

	logger.Trace(context.Background(), "chunk embedded")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestLogger_TraceFilteredAtInfo(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := newBufferLogger(t, cfg)

	logger.Trace(context.Background(), "chunk embedded")
	logger.Debug(context.Background(), "debug detail")

	assert.Empty(t, strings.TrimSpace(buf.String()))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Initial = 1
	cfg.Sampling.Thereafter = 0
	logger, buf := newBufferLogger(t, cfg)

	for i := 0; i < 5; i++ {
		logger.Info(context.Background(), "repeated info")
		logger.Error(context.Background(), "repeated error")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated info":
			infos++
		case "repeated error":
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestWithRequestID_IgnoresInvalid(t *testing.T) {
	ctx := WithRequestID(context.Background(), "bad id with spaces")
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(context.Background(), strings.Repeat("a", maxIDLen+1))
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(context.Background(), "3f2c-11ee")
	assert.Equal(t, "3f2c-11ee", RequestIDFromContext(ctx))
}

func TestTestLogger_AssertField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(WithActor(context.Background(), "U9"), "document removed", zap.String("title", "Doc A"))

	tl.AssertField(t, "document removed", "title", "Doc A")
	tl.AssertField(t, "document removed", "actor", "U9")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "document removed")

	tl.Reset()
	assert.Empty(t, tl.All())
}
