package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("prod", &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug message leaked in prod: %s", out)
	}
	if !strings.Contains(out, `"app":"radish-rewards"`) {
		t.Fatalf("expected app field, got %s", out)
	}

	buf.Reset()
	dev := newLogger("dev", &buf)
	dev.Debug().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug message missing in dev: %s", buf.String())
	}
}
