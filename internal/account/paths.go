// Package account resolves the on-disk layout for one linked-identity
// relay core instance: its keystore database, lock file, and log file.
// A host process may run more than one account concurrently; each gets
// its own isolated tree so their keystore transactions never interleave.
package account

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.baileysgo.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".baileysgo")
}

// Dir returns the account-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "accounts", name)
}

// LockPath returns the advisory lock file path for an account, guarding
// against two OS processes opening the same keystore concurrently.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// KeystoreDBPath returns the SQLite keystore path for an account.
func KeystoreDBPath(name string) string {
	return filepath.Join(Dir(name), "keystore.db")
}

// LogDir returns the log directory for an account.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the relay core's log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "relay.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the account directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
