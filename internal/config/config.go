// Package config provides the configuration schema, loader, factory registry
// and file watcher of the interview server.
package config

import (
	"time"

	"github.com/MrWong99/liveinterview/internal/script"
)

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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultTransport     = "gemini"
	DefaultInput         = "malgo"
	DefaultOutput        = "oto"
	DefaultSendTextRate  = 2.0
	DefaultSendTextBurst = 5
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Live    LiveConfig    `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Script  ScriptConfig  `yaml:"script"`
	History HistoryConfig `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the gateway in serve mode.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// SendTextRate and SendTextBurst limit send_text commands per websocket.
	SendTextRate  float64 `yaml:"send_text_rate"`
	SendTextBurst int     `yaml:"send_text_burst"`

	// AllowedOrigins is passed to the websocket handshake as origin patterns.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LiveConfig selects and configures the realtime model endpoint.
type LiveConfig struct {
	// Transport names the registered dialer: "gemini" (raw websocket) or
	// "genai" (Google Gen AI SDK).
	Transport string `yaml:"transport"`

	// Fallback lists further transports dialled in order when the primary
	// fails. Each one sits behind its own circuit breaker.
	Fallback []string `yaml:"fallback"`

	// APIKey authenticates against the endpoint. When empty it is taken from
	// LIVEINTERVIEW_API_KEY or GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the websocket endpoint of the gemini transport.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`
	Voice string `yaml:"voice"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds connection retries on transient unavailability.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// AudioConfig selects the capture and playback devices.
type AudioConfig struct {
	Input  DeviceEntry `yaml:"input"`
	Output DeviceEntry `yaml:"output"`

	// FrameSize is the number of 16 kHz samples per uplink frame.
	FrameSize int `yaml:"frame_size"`

	// MicMuted and SpeakerMuted set the initial mute state of console
	// interviews.
	MicMuted     bool `yaml:"mic_muted"`
	SpeakerMuted bool `yaml:"speaker_muted"`
}

// DeviceEntry names a registered audio device factory.
type DeviceEntry struct {
	// Name selects the factory, e.g. "malgo", "pipe", "oto" or "ffplay".
	Name string `yaml:"name"`

	// Path is a file for "pipe" devices ("-" for stdin/stdout) or the binary
	// for "ffplay".
	Path string `yaml:"path"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	MutedInterval time.Duration `yaml:"muted_interval"`
	OutboundLimit int           `yaml:"outbound_limit"`
}

// ScriptConfig is the interview script. InstructionsFile, when set, replaces
// Instructions with the file's contents; relative paths resolve against the
// directory of the config file.
type ScriptConfig struct {
	script.Script    `yaml:",inline"`
	InstructionsFile string `yaml:"instructions_file"`
}

// HistoryConfig selects the transcript history store. An empty DSN keeps
// history in memory.
type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}
