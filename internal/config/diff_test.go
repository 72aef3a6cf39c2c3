package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/medconnect/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a, b := mustLoad(t, minimalYAML), mustLoad(t, minimalYAML)
	d := config.Diff(a, b)
	if d.LogLevelChanged || d.CaptureChanged || d.TurnLimitChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, minimalYAML)
	updated := mustLoad(t, minimalYAML+`
server:
  log_level: debug
capture:
  no_speech_timeout: 4s
  keywords:
    - keyword: Dr. Patel
      boost: 1.5
gateway:
  max_turns_per_minute: 5
`)
	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.CaptureChanged || d.NewCapture.NoSpeechTimeout != 4*time.Second || len(d.NewCapture.Keywords) != 1 {
		t.Errorf("capture diff = %v/%+v", d.CaptureChanged, d.NewCapture)
	}
	if !d.TurnLimitChanged || d.NewTurnLimit != 5 {
		t.Errorf("turn limit diff = %v/%d", d.TurnLimitChanged, d.NewTurnLimit)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, minimalYAML)
	updated := mustLoad(t, `
server:
  listen_addr: ":9999"
dialogue:
  base_url: https://other.example.com/api
guard:
  backend: redis
  redis_addr: redis:6379
`)
	d := config.Diff(old, updated)
	want := []string{"server", "dialogue", "guard"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.CaptureChanged || d.TurnLimitChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}
