// Package config loads and saves the relay core's durable, on-disk
// configuration. Only TOML-serializable settings live here; the relay
// constructor takes no cache or callback options either, so the relay
// core has no hook for caller-supplied caches or callbacks.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.baileysgo/config.toml.
type Config struct {
	DefaultAccount string `toml:"default_account"`

	// CompatV6GroupSend downgrades session-assert failures in group sends
	// to warnings and bypasses the per-peer encryption mutex, matching the
	// legacy protocol client's behavior at the cost of durability.
	CompatV6GroupSend bool `toml:"compat_v6_group_send"`

	// GroupAssertChunk bounds how many session asserts run concurrently
	// when fanning out to a group's devices.
	GroupAssertChunk int `toml:"group_assert_chunk"`

	// GroupAssertDelayMs is the delay between chunks of session asserts.
	GroupAssertDelayMs int `toml:"group_assert_delay_ms"`

	// RecentMessagesCacheSize bounds the retry-resend LRU.
	RecentMessagesCacheSize int `toml:"recent_messages_cache_size"`

	// EnableRecentMessageCache toggles retry-resend plaintext retention.
	EnableRecentMessageCache bool `toml:"enable_recent_message_cache"`

	// MaxMsgRetryCount bounds retry-resend attempts a caller may make
	// against the relay for one message id (enforced by callers; the core
	// only surfaces the configured ceiling).
	MaxMsgRetryCount int `toml:"max_msg_retry_count"`

	// EmitOwnEvents is loaded and saved with the rest of the config; no
	// component of the relay core reads it, and no bus event depends on it.
	EmitOwnEvents bool `toml:"emit_own_events"`
}

// Default returns the configuration the relay core assumes when none is
// loaded from disk.
func Default() *Config {
	return &Config{
		DefaultAccount:           "default",
		GroupAssertChunk:         10,
		GroupAssertDelayMs:       250,
		RecentMessagesCacheSize:  20000,
		EnableRecentMessageCache: true,
		MaxMsgRetryCount:         5,
		EmitOwnEvents:            false,
	}
}

// Load reads config from the given path. Returns a nil config and the
// error if the file is missing or cannot be decoded.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
