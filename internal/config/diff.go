package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged is set when any capture tuning changed. Connections
	// opened afterwards use NewCapture; open ones keep their settings.
	CaptureChanged bool
	NewCapture     CaptureConfig

	TurnLimitChanged bool
	NewTurnLimit     int

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !captureEqual(old.Capture, new.Capture) {
		d.CaptureChanged = true
		d.NewCapture = new.Capture
	}
	if old.Gateway.MaxTurnsPerMinute != new.Gateway.MaxTurnsPerMinute {
		d.TurnLimitChanged = true
		d.NewTurnLimit = new.Gateway.MaxTurnsPerMinute
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldGateway, newGateway := old.Gateway, new.Gateway
	oldGateway.MaxTurnsPerMinute, newGateway.MaxTurnsPerMinute = 0, 0

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"dialogue", old.Dialogue, new.Dialogue},
		{"providers", old.Providers, new.Providers},
		{"gateway", oldGateway, newGateway},
		{"archive", old.Archive, new.Archive},
		{"guard", old.Guard, new.Guard},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func captureEqual(a, b CaptureConfig) bool {
	return a.NoSpeechTimeout == b.NoSpeechTimeout &&
		a.MaxUtterance == b.MaxUtterance &&
		a.EndOfSpeech == b.EndOfSpeech &&
		a.FlushTimeout == b.FlushTimeout &&
		a.Language == b.Language &&
		slices.Equal(a.Keywords, b.Keywords)
}
