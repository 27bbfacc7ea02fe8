package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWithWriterLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{})
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line must be filtered at info level: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Fatalf("expected JSON info line, got %s", out)
	}

	buf.Reset()
	debug := NewWithWriter(&buf, Config{Debug: true})
	debug.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug logger dropped debug line: %s", buf.String())
	}
}
