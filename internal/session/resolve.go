package session

import (
	"os"

	"github.com/matheus3301/ventchat/internal/config"
)

const DefaultSessionName = "main"

// SessionEnv names the session when no flag is given.
const SessionEnv = "VENTCHAT_SESSION"

// Resolve determines the active session name using precedence:
// --session flag, $VENTCHAT_SESSION, default_session in config.toml, "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(SessionEnv); name != "" {
		return name
	}
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
