package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file (<data_dir>/config.toml).
type Config struct {
	ListenAddr        string   `toml:"listen_addr"`
	DataDir           string   `toml:"data_dir"`
	AdminToken        string   `toml:"admin_token"`
	TranslateUpstream string   `toml:"translate_upstream"`
	Tunables          Tunables `toml:"tunables"`
}

// Tunables are the retry/backoff constants. The shape of each policy is
// fixed (single retry, bounded fuzzy window, hard 2FA timeout); only the
// values are configurable.
type Tunables struct {
	PasswordTimeoutSecs int   `toml:"password_timeout_secs"`
	FuzzyWindowSecs     int64 `toml:"fuzzy_window_secs"`
	EmptyChatRetrySecs  int   `toml:"empty_chat_retry_secs"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ListenAddr: "127.0.0.1:8321",
		DataDir:    filepath.Join(home, ".chatmux"),
		Tunables: Tunables{
			PasswordTimeoutSecs: 300,
			FuzzyWindowSecs:     120,
			EmptyChatRetrySecs:  3,
		},
	}
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Defaults when the
// file does not exist yet.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Defaults()
	}
	return cfg
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
