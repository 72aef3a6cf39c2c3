package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidSTTNames lists the built-in speech-to-text providers. [Validate] warns
// about other names.
var ValidSTTNames = []string{"deepgram", "whisper", "whisper-native"}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, fills defaults and validates.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.LogFormat, LogFormatText)
	setDefault(&cfg.Server.ShutdownTimeout, 15*time.Second)

	setDefault(&cfg.Dialogue.Timeout, 15*time.Second)

	setDefault(&cfg.Capture.NoSpeechTimeout, 8*time.Second)
	setDefault(&cfg.Capture.MaxUtterance, 30*time.Second)
	setDefault(&cfg.Capture.FlushTimeout, 5*time.Second)
	setDefault(&cfg.Capture.Language, "en-US")

	setDefault(&cfg.Gateway.Path, "/v1/voice/ws")
	setDefault(&cfg.Gateway.MaxMessageBytes, 64<<10)
	setDefault(&cfg.Gateway.MaxTurnsPerMinute, 20)

	setDefault(&cfg.Guard.Backend, GuardMemory)
	setDefault(&cfg.Guard.TTL, 30*time.Second)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, zap", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Dialogue.BaseURL == "" {
		errs = append(errs, errors.New("dialogue.base_url is required"))
	} else if err := checkHTTPURL(cfg.Dialogue.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("dialogue.base_url: %w", err))
	}
	for i, u := range cfg.Dialogue.FallbackURLs {
		if err := checkHTTPURL(u); err != nil {
			errs = append(errs, fmt.Errorf("dialogue.fallback_urls[%d]: %w", i, err))
		}
	}
	errs = appendNonNegative(errs, "dialogue.timeout", cfg.Dialogue.Timeout)
	errs = appendNonNegative(errs, "dialogue.circuit_breaker.reset_timeout", cfg.Dialogue.CircuitBreaker.ResetTimeout)
	if cfg.Dialogue.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, errors.New("dialogue.circuit_breaker.max_failures must not be negative"))
	}

	errs = appendNonNegative(errs, "capture.no_speech_timeout", cfg.Capture.NoSpeechTimeout)
	errs = appendNonNegative(errs, "capture.max_utterance", cfg.Capture.MaxUtterance)
	errs = appendNonNegative(errs, "capture.flush_timeout", cfg.Capture.FlushTimeout)
	errs = appendNonNegative(errs, "capture.end_of_speech", cfg.Capture.EndOfSpeech)
	for i, kw := range cfg.Capture.Keywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("capture.keywords[%d].keyword is required", i))
		}
	}

	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
		}
		slog.Warn("providers.stt is not configured; speech capture is disabled and clients can only type")
	}
	checkSTTName(cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		checkSTTName(fb.Name)
	}

	if cfg.Gateway.MaxMessageBytes < 0 {
		errs = append(errs, errors.New("gateway.max_message_bytes must not be negative"))
	}

	switch cfg.Guard.Backend {
	case GuardMemory:
	case GuardRedis:
		if cfg.Guard.RedisAddr == "" {
			errs = append(errs, errors.New("guard.redis_addr is required when guard.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("guard.backend %q is invalid; valid values: memory, redis", cfg.Guard.Backend))
	}
	if cfg.Guard.TTL < time.Second {
		errs = append(errs, errors.New("guard.ttl must be at least 1s"))
	}

	if cfg.Archive.PostgresDSN == "" {
		slog.Info("archive.postgres_dsn is empty; transcripts will not be archived")
	}

	return errors.Join(errs...)
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func appendNonNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative", field))
	}
	return errs
}

func checkSTTName(name string) {
	if name == "" || slices.Contains(ValidSTTNames, name) {
		return
	}
	slog.Warn("unknown stt provider name, may be a typo or a third-party provider",
		"name", name,
		"known", ValidSTTNames,
	)
}
