package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.TurnStarted("anthropic", "claude")
	m.TurnEnded("done", 2, 1.5)
	m.ToolSettled("web_search", "completed", 0.2)
	m.Tokens(10, 20)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TurnStarted("anthropic", "claude")
	m.TurnEnded("done", 3, 2.0)
	m.ToolSettled("web_search", "completed", 0.1)
	m.Tokens(100, 250)

	if got := testutil.ToFloat64(m.TurnsStarted.WithLabelValues("anthropic", "claude")); got != 1 {
		t.Fatalf("turns started = %v", got)
	}
	if got := testutil.ToFloat64(m.TurnsEnded.WithLabelValues("done")); got != 1 {
		t.Fatalf("turns ended = %v", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("output")); got != 250 {
		t.Fatalf("output tokens = %v", got)
	}
}

func TestLoggerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
	logger.Info("provider configured", "api_key", "sk-secret-value", "model", "claude")

	out := buf.String()
	if strings.Contains(out, "sk-secret-value") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "[redacted]") || !strings.Contains(out, "claude") {
		t.Fatalf("output = %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})
	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "visible") {
		t.Fatalf("output = %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug || parseLevel("nonsense") != slog.LevelInfo {
		t.Fatal("level parsing broken")
	}
}
