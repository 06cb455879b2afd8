package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// HeuristicChanged is true when the keyword set or phonetic settings
	// changed. The heuristic is rebuilt for sessions started after the
	// reload.
	HeuristicChanged bool

	// FallbackChanged is true when the classification fallback verdict
	// changed.
	FallbackChanged bool
	NewFallback     Fallback

	// InstructionsChanged is true when the conversation system prompt
	// changed. Applies to sessions warmed up after the reload.
	InstructionsChanged bool
}

// Changed reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.HeuristicChanged || d.FallbackChanged || d.InstructionsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: connection
// endpoints, credentials, and the store DSN require a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Heuristic.ExtraKeywords, new.Heuristic.ExtraKeywords) ||
		old.Heuristic.Phonetic != new.Heuristic.Phonetic ||
		old.Heuristic.PhoneticThreshold != new.Heuristic.PhoneticThreshold {
		d.HeuristicChanged = true
	}

	if old.Classifier.Fallback != new.Classifier.Fallback {
		d.FallbackChanged = true
		d.NewFallback = new.Classifier.Fallback
	}

	if old.Channel.Instructions != new.Channel.Instructions {
		d.InstructionsChanged = true
	}

	return d
}
