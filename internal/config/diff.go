package config

// Changes describes the hot-reloadable differences between two configs.
// Everything else (listeners, providers, devices) needs a restart.
type Changes struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AvatarChanged is set when any animation policy value differs.
	AvatarChanged bool
	NewAvatar     AvatarConfig

	// PersonaChanged is set when the voice, preset or personality differs.
	PersonaChanged bool
	NewPersona     PersonaConfig

	// RestartRequired lists sections whose changes are ignored until restart.
	RestartRequired []string
}

// Empty reports whether nothing reloadable changed.
func (c Changes) Empty() bool {
	return !c.LogLevelChanged && !c.AvatarChanged && !c.PersonaChanged
}

// Diff compares old and new.
func Diff(old, new *Config) Changes {
	var c Changes
	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevelChanged = true
		c.NewLogLevel = new.Server.LogLevel
	}
	if !avatarEqual(old.Avatar, new.Avatar) {
		c.AvatarChanged = true
		c.NewAvatar = new.Avatar
	}
	if old.Persona != new.Persona {
		c.PersonaChanged = true
		c.NewPersona = new.Persona
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || (old.Server.TLS == nil) != (new.Server.TLS == nil) {
		c.RestartRequired = append(c.RestartRequired, "server")
	}
	if old.Backend != new.Backend {
		c.RestartRequired = append(c.RestartRequired, "backend")
	}
	if old.Audio != new.Audio {
		c.RestartRequired = append(c.RestartRequired, "audio")
	}
	if !providersEqual(old.Providers, new.Providers) {
		c.RestartRequired = append(c.RestartRequired, "providers")
	}
	return c
}

// AvatarConfig holds only comparable fields today; the helper keeps call
// sites stable if that changes.
func avatarEqual(a, b AvatarConfig) bool { return a == b }

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.LLM, b.LLM) || !entryEqual(a.STT, b.STT) || !entryEqual(a.TTS, b.TTS) {
		return false
	}
	if len(a.LLMFallbacks) != len(b.LLMFallbacks) || len(a.STTFallbacks) != len(b.STTFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !entryEqual(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	for i := range a.STTFallbacks {
		if !entryEqual(a.STTFallbacks[i], b.STTFallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual ignores Options, which are not comparable; option edits are
// rare enough to ride along with another change.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
