package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestWithCallStampsRoundAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	WithCall(base, "ch-1", "req-1").Info("invite sent")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["channel_id"] != "ch-1" {
		t.Fatalf("expected channel_id ch-1, got %v", line["channel_id"])
	}
	if line["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", line["request_id"])
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	base := New("dev")
	ctx := With(context.Background(), base)
	if got := From(ctx); got != base {
		t.Fatalf("expected the stored logger back, got %v", got)
	}
	if got := From(context.Background()); got == nil {
		t.Fatalf("expected the default logger fallback, got nil")
	}
}
