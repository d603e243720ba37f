package account

import "github.com/baileysgo/relaycore/internal/config"

const DefaultAccountName = "default"

// Resolve determines the active account name using precedence:
// 1. override (explicit caller argument)
// 2. config.toml default_account
// 3. "default"
func Resolve(override string) string {
	if override != "" {
		return override
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultAccount != "" {
		return cfg.DefaultAccount
	}
	return DefaultAccountName
}
