package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithConfigParsesLevel(t *testing.T) {
	l := NewWithConfig(Config{Level: "WARN"})
	if l.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("unexpected level: got=%s", l.GetLevel())
	}
	l = NewWithConfig(Config{Level: "nonsense"})
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got=%s", l.GetLevel())
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))
	l := FromContext(ctx)
	l.Info().Str("reference", "TRF00000001").Msg("hello")
	if !strings.Contains(buf.String(), `"reference":"TRF00000001"`) {
		t.Fatalf("expected structured field in output, got: %s", buf.String())
	}
}

func TestFromContextWithoutLoggerIsDisabled(t *testing.T) {
	l := FromContext(context.Background())
	if l.GetLevel() != zerolog.Disabled {
		t.Fatalf("expected disabled logger, got=%s", l.GetLevel())
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := WithFields(NewWithWriter(buf), map[string]any{"account_id": "a-1", "attempt": 2})
	l.Info().Msg("x")
	out := buf.String()
	if !strings.Contains(out, `"account_id":"a-1"`) || !strings.Contains(out, `"attempt":2`) {
		t.Fatalf("missing fields: %s", out)
	}
}
