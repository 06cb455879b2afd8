package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"classifier": {"openai", "anyllm"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Classifier
	validateProviderName("classifier", cfg.Classifier.Provider.Name)
	if cfg.Classifier.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout_ms %d must not be negative", cfg.Classifier.TimeoutMS))
	}
	if cfg.Classifier.Fallback != "" && !cfg.Classifier.Fallback.IsValid() {
		errs = append(errs, fmt.Errorf("classifier.fallback %q is invalid; valid values: conversation, command", cfg.Classifier.Fallback))
	}
	if cfg.Classifier.Provider.Name != "" && cfg.Classifier.Provider.APIKey == "" {
		slog.Warn("classifier.provider.api_key is empty; remote classification will likely fail and resolve to the fallback verdict",
			"provider", cfg.Classifier.Provider.Name,
		)
	}
	if cfg.Classifier.Provider.Name == "" {
		slog.Warn("no remote classifier configured; utterances without a command keyword resolve to the fallback verdict")
	}

	// Channel
	if cfg.Channel.URL == "" {
		errs = append(errs, errors.New("channel.url is required"))
	}
	if cfg.Channel.APIKey == "" {
		slog.Warn("channel.api_key is empty; the conversation service may reject connections")
	}

	// Heuristic
	if t := cfg.Heuristic.PhoneticThreshold; t != 0 && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("heuristic.phonetic_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Heuristic.PhoneticThreshold != 0 && !cfg.Heuristic.Phonetic {
		slog.Warn("heuristic.phonetic_threshold is set but heuristic.phonetic is false; threshold has no effect")
	}

	// Session
	if cfg.Session.SendGraceMS < 0 {
		errs = append(errs, fmt.Errorf("session.send_grace_ms %d must not be negative", cfg.Session.SendGraceMS))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; tasks will be kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
