package config

import "slices"

// Diff describes what changed between two configs. Only settings that can be
// applied without a restart are tracked; everything else takes effect on the
// next process start.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScriptChanged is set when any script field, including the contents of
	// the instructions file, differs. New sessions use the new script.
	ScriptChanged bool

	// LiveChanged is set when model or voice differ. New sessions pick them up.
	LiveChanged bool

	// RestartRequired lists sections that changed but need a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.ScriptChanged && !d.LiveChanged && len(d.RestartRequired) == 0
}

// Compare returns what changed from old to new.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Script.Script != new.Script.Script {
		d.ScriptChanged = true
	}
	if old.Live.Model != new.Live.Model || old.Live.Voice != new.Live.Voice {
		d.LiveChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Live.Transport != new.Live.Transport || old.Live.APIKey != new.Live.APIKey || old.Live.BaseURL != new.Live.BaseURL ||
		!slices.Equal(old.Live.Fallback, new.Live.Fallback) {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Audio.Input != new.Audio.Input || old.Audio.Output != new.Audio.Output {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}
