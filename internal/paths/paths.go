// Package paths defines the data-dir layout: one app database and log dir at
// the root, one private directory per linked account for driver credential
// stores.
package paths

import (
	"os"
	"path/filepath"
)

// AppDBPath returns the daemon-owned chatmux.db path.
func AppDBPath(dataDir string) string {
	return filepath.Join(dataDir, "chatmux.db")
}

// AccountDir returns the private directory for one account.
func AccountDir(dataDir, accountID string) string {
	return filepath.Join(dataDir, "accounts", accountID)
}

// SessionDBPath returns the driver credential store path for one account.
func SessionDBPath(dataDir, accountID string) string {
	return filepath.Join(AccountDir(dataDir, accountID), "session.db")
}

// LogDir returns the daemon log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "chatmuxd.log")
}

// ConfigPath returns the config file path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// EnsureDataDir creates the base directory tree with proper permissions.
func EnsureDataDir(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "accounts"),
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// EnsureAccountDir creates the private directory for one account.
func EnsureAccountDir(dataDir, accountID string) error {
	return os.MkdirAll(AccountDir(dataDir, accountID), 0700)
}
