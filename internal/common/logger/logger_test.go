package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
)

func TestWithFieldsIncludesTraceAndSortedFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "api", "debug")

	ctx := context.WithValue(context.Background(), constants.TraceIDKey, "trace-1")
	log.WithFields(ctx, Fields{"user_id": "u1", "action": "login"}).Info("done")

	out := buf.String()
	if !strings.Contains(out, "[INFO] [api]") {
		t.Fatalf("missing level prefix: %q", out)
	}
	if !strings.Contains(out, "trace_id=trace-1 action=login user_id=u1") {
		t.Errorf("unexpected field rendering: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "", "warn")

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info message written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn message not written")
	}
	if log.ShouldLog(DEBUG) {
		t.Errorf("debug should be filtered")
	}
}

func TestSensitiveFieldsAreMasked(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "", "info")

	log.WithFields(context.Background(), Fields{"refresh_token": "abc.def", "tokens_removed": 3}).
		With(Fields{"password": "hunter2"}).
		Info("sweep")

	out := buf.String()
	if strings.Contains(out, "abc.def") || strings.Contains(out, "hunter2") {
		t.Fatalf("credential leaked into log: %q", out)
	}
	if !strings.Contains(out, "tokens_removed=3") {
		t.Errorf("numeric field masked: %q", out)
	}
}
