// Package session lays out the per-session state directory.
package session

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the base directory, mainly for tests and containers.
const EnvHome = "WPPRELAY_HOME"

// BaseDir returns $WPPRELAY_HOME, or ~/.wpprelay.
func BaseDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wpprelay")
}

// Dir returns the session-specific directory. It also holds the credential
// envelope (creds.json).
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DeviceDBPath returns the whatsmeow device store path.
func DeviceDBPath(name string) string {
	return filepath.Join(Dir(name), "session.db")
}

// AppDBPath returns the relay's own database path.
func AppDBPath(name string) string {
	return filepath.Join(Dir(name), "relay.db")
}

// IdentityPath returns the default age identity used to seal credentials.
func IdentityPath(name string) string {
	return filepath.Join(Dir(name), "age.key")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "relayd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional dotenv file next to the config.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
