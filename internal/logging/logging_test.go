package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultLoggerDiscards(t *testing.T) {
	Set(nil)
	if L().Enabled(context.Background(), slog.LevelError) {
		t.Error("default logger should not be enabled at any level")
	}
}

func TestSetRoutesRecords(t *testing.T) {
	var buf bytes.Buffer
	Set(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer Set(nil)

	L().Debug("frame decoded", "index", 3)
	if !strings.Contains(buf.String(), "frame decoded") {
		t.Errorf("log output = %q, want it to contain the message", buf.String())
	}
}
