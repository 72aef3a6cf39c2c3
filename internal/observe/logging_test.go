package observe

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogHandler_Formats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{
			format: LogFormatText,
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "doctor_id=d-1") {
					t.Errorf("text output = %q", out)
				}
			},
		},
		{
			format: LogFormatJSON,
			check: func(t *testing.T, out string) {
				var rec map[string]any
				if err := json.Unmarshal([]byte(out), &rec); err != nil {
					t.Fatalf("json output %q: %v", out, err)
				}
				if rec["msg"] != "hello" || rec["doctor_id"] != "d-1" {
					t.Errorf("json record = %v", rec)
				}
			},
		},
		{
			format: LogFormatZap,
			check: func(t *testing.T, out string) {
				var rec map[string]any
				if err := json.Unmarshal([]byte(out), &rec); err != nil {
					t.Fatalf("zap output %q: %v", out, err)
				}
				if rec["msg"] != "hello" || rec["doctor_id"] != "d-1" {
					t.Errorf("zap record = %v", rec)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			h, closeFn, err := NewLogHandler(tc.format, &buf, slog.LevelInfo)
			if err != nil {
				t.Fatalf("NewLogHandler: %v", err)
			}
			slog.New(h).Info("hello", "doctor_id", "d-1")
			_ = closeFn()
			tc.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestNewLogHandler_LevelVar(t *testing.T) {
	for _, format := range []string{LogFormatText, LogFormatJSON, LogFormatZap} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			var level slog.LevelVar
			level.Set(slog.LevelWarn)
			h, closeFn, err := NewLogHandler(format, &buf, &level)
			if err != nil {
				t.Fatalf("NewLogHandler: %v", err)
			}
			log := slog.New(h)

			log.Info("suppressed")
			_ = closeFn()
			if buf.Len() != 0 {
				t.Fatalf("info logged at warn level: %q", buf.String())
			}

			level.Set(slog.LevelDebug)
			log.Debug("visible")
			_ = closeFn()
			if !strings.Contains(buf.String(), "visible") {
				t.Errorf("debug not logged after lowering level: %q", buf.String())
			}
		})
	}
}

func TestNewLogHandler_UnknownFormat(t *testing.T) {
	if _, _, err := NewLogHandler("xml", &bytes.Buffer{}, slog.LevelInfo); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
