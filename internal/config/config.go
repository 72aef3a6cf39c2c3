// Package config provides the configuration schema, loader, and provider
// registry for the MedConnect voice service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatZap  LogFormat = "zap"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatZap:
		return true
	}
	return false
}

// GuardBackend selects where initiation holds are kept.
type GuardBackend string

const (
	GuardMemory GuardBackend = "memory"
	GuardRedis  GuardBackend = "redis"
)

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Capture   CaptureConfig   `yaml:"capture"`
	Providers ProvidersConfig `yaml:"providers"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Guard     GuardConfig     `yaml:"guard"`
}

// ServerConfig holds listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds PEM certificate and key paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DialogueConfig points at the dialogue backend.
type DialogueConfig struct {
	// BaseURL is the backend API root, e.g. "https://api.example.com/api".
	BaseURL string `yaml:"base_url"`

	// FallbackURLs are replicas tried when BaseURL cannot be reached.
	FallbackURLs []string `yaml:"fallback_urls"`

	// Token is sent as a Bearer token when set.
	Token string `yaml:"token"`

	// Timeout bounds each backend call. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-backend circuit breakers. Zero values
// select the breaker defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CaptureConfig tunes speech capture cycles. It is hot-reloadable.
type CaptureConfig struct {
	// NoSpeechTimeout ends a cycle that heard nothing. Default: 8s.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// MaxUtterance caps one cycle. Default: 30s.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	// FlushTimeout bounds the wait for a final transcript after stop.
	// Default: 5s.
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// EndOfSpeech is the trailing silence after speech that ends a cycle
	// without a stop command. Zero leaves ending to the client.
	EndOfSpeech time.Duration `yaml:"end_of_speech"`

	// Language is a BCP-47 tag passed to the recogniser. Default: "en-US".
	Language string `yaml:"language"`

	// Keywords boost recognition of domain vocabulary such as doctor names.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is one boosted term.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// ProvidersConfig selects the speech-to-text providers.
type ProvidersConfig struct {
	// STT is the primary recogniser. When Name is empty speech capture is
	// disabled and clients can only type.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary cannot start a stream.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry configures one provider. Name selects the factory in the
// [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// GatewayConfig configures the WebSocket surface.
type GatewayConfig struct {
	// Path of the voice endpoint. Default: "/v1/voice/ws".
	Path string `yaml:"path"`

	// AllowedOrigins are host patterns accepted for cross-origin upgrades.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxTurnsPerMinute limits start and text commands per connection.
	// A negative value disables the limit. Hot-reloadable. Default: 20.
	MaxTurnsPerMinute int `yaml:"max_turns_per_minute"`

	// MaxMessageBytes limits one client frame. Default: 64 KiB.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// ArchiveConfig configures transcript archiving. Archiving is off when
// PostgresDSN is empty.
type ArchiveConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// GuardConfig configures the session initiation guard.
type GuardConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend GuardBackend `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// TTL is the Redis hold expiry, refreshed while the hold is live.
	// Must be at least 1s. Default: 30s.
	TTL time.Duration `yaml:"ttl"`
}
