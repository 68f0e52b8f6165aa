package session

import "github.com/matheus3301/wpprelay/internal/config"

// DefaultSessionName is used when neither a flag nor config.toml names a session.
const DefaultSessionName = "main"

// Resolve picks the session name: the --session flag wins, then
// default_session from config.toml, then DefaultSessionName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
