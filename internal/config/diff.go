package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: log verbosity and
// the pipeline tuning knobs. Provider, telephony, and persistence changes
// need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TuningChanged is true when any VAD or turn knob changed. New sessions
	// pick the new values up; running calls keep the tuning they started with.
	TuningChanged bool
	NewTuning     TuningConfig

	// RecoveryChanged is true when the retry policy changed.
	RecoveryChanged bool
	NewRecovery     RecoveryConfig
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TuningChanged && !d.RecoveryChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Tuning != new.Tuning {
		d.TuningChanged = true
		d.NewTuning = new.Tuning
	}

	if old.Recovery != new.Recovery {
		d.RecoveryChanged = true
		d.NewRecovery = new.Recovery
	}

	return d
}
