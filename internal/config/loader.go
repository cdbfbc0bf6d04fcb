package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// API key environment variables, in lookup order.
const (
	EnvAPIKey       = "LIVEINTERVIEW_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// KnownTransports, KnownInputs and KnownOutputs list the built-in factory
// names. [Validate] warns about others, which may be registered by embedders.
var (
	KnownTransports = []string{"gemini", "genai"}
	KnownInputs     = []string{"malgo", "pipe"}
	KnownOutputs    = []string{"oto", "ffplay", "pipe"}
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A relative script.instructions_file is resolved against the
// directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Relative instruction files resolve against the working directory.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, ".")
}

func parse(data []byte, baseDir string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := resolve(cfg, baseDir); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve fills defaults, the API key from the environment and the
// instructions from their file.
func resolve(cfg *Config, baseDir string) error {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.SendTextRate == 0 {
		cfg.Server.SendTextRate = DefaultSendTextRate
	}
	if cfg.Server.SendTextBurst == 0 {
		cfg.Server.SendTextBurst = DefaultSendTextBurst
	}
	if cfg.Live.Transport == "" {
		cfg.Live.Transport = DefaultTransport
	}
	if cfg.Live.APIKey == "" {
		cfg.Live.APIKey = cmpEnv(EnvAPIKey, EnvGeminiAPIKey)
	}
	if cfg.Audio.Input.Name == "" {
		cfg.Audio.Input.Name = DefaultInput
	}
	if cfg.Audio.Output.Name == "" {
		cfg.Audio.Output.Name = DefaultOutput
	}

	if f := cfg.Script.InstructionsFile; f != "" {
		if !filepath.IsAbs(f) {
			f = filepath.Join(baseDir, f)
		}
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("config: script.instructions_file: %w", err)
		}
		cfg.Script.Instructions = string(b)
	}
	cfg.Script.Script = cfg.Script.WithDefaults()
	return nil
}

// cmpEnv returns the first non-empty environment variable of keys.
func cmpEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.SendTextRate < 0 {
		errs = append(errs, fmt.Errorf("server.send_text_rate %.2f must not be negative", cfg.Server.SendTextRate))
	}
	if cfg.Server.SendTextBurst < 0 {
		errs = append(errs, fmt.Errorf("server.send_text_burst %d must not be negative", cfg.Server.SendTextBurst))
	}

	// Live endpoint
	if cfg.Live.APIKey == "" {
		errs = append(errs, fmt.Errorf("live.api_key is required (or set %s)", EnvAPIKey))
	}
	if cfg.Live.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("live.retry.max_attempts %d must not be negative", cfg.Live.Retry.MaxAttempts))
	}
	if cfg.Live.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("live.retry.base_delay %s must not be negative", cfg.Live.Retry.BaseDelay))
	}
	warnUnknown("live.transport", cfg.Live.Transport, KnownTransports)
	for i, name := range cfg.Live.Fallback {
		if name == "" || name == cfg.Live.Transport || slices.Contains(cfg.Live.Fallback[:i], name) {
			errs = append(errs, fmt.Errorf("live.fallback[%d] %q must be a distinct non-empty transport", i, name))
			continue
		}
		warnUnknown(fmt.Sprintf("live.fallback[%d]", i), name, KnownTransports)
	}

	// Audio
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	warnUnknown("audio.input", cfg.Audio.Input.Name, KnownInputs)
	warnUnknown("audio.output", cfg.Audio.Output.Name, KnownOutputs)
	if cfg.Audio.Input.Name == "pipe" && cfg.Audio.Input.Path == "" {
		errs = append(errs, errors.New("audio.input.path is required for the pipe input"))
	}

	// Session
	if cfg.Session.FrameInterval < 0 || cfg.Session.MutedInterval < 0 {
		errs = append(errs, errors.New("session intervals must not be negative"))
	}
	if cfg.Session.OutboundLimit < 0 {
		errs = append(errs, fmt.Errorf("session.outbound_limit %d must not be negative", cfg.Session.OutboundLimit))
	}

	// Script
	if err := cfg.Script.Validate(); err != nil {
		errs = append(errs, err)
	}

	// History
	if cfg.History.PostgresDSN == "" {
		slog.Debug("history.postgres_dsn is empty; interview history is kept in memory")
	}

	return errors.Join(errs...)
}

// warnUnknown logs a warning if name is not a built-in factory.
func warnUnknown(field, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown factory name; may be a typo or a custom registration",
		"field", field,
		"name", name,
		"known", known,
	)
}
