package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file (~/.esferazap/config.toml).
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`
	LogLevel   string `toml:"log_level"`

	Queue     QueueConfig     `toml:"queue"`
	Pairing   PairingConfig   `toml:"pairing"`
	AI        AIConfig        `toml:"ai"`
	Transport TransportConfig `toml:"transport"`
}

// QueueConfig tunes the shared outbound dispatch queue.
type QueueConfig struct {
	TickInterval Duration `toml:"tick_interval"`
	MaxRetries   int      `toml:"max_retries"`
}

// PairingConfig tunes the channel pairing handshake.
type PairingConfig struct {
	Timeout Duration `toml:"timeout"`
}

// AIConfig holds provider credentials and generation limits.
type AIConfig struct {
	OpenAIKey      string   `toml:"openai_key"`
	AnthropicKey   string   `toml:"anthropic_key"`
	RequestTimeout Duration `toml:"request_timeout"`
	HistoryWindow  int      `toml:"history_window"`
}

// TransportConfig selects the channel backend: "whatsmeow" or "simulated".
type TransportConfig struct {
	Backend string `toml:"backend"`
}

// Duration wraps time.Duration so TOML can decode strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ListenAddr: "127.0.0.1:8420",
		DataDir:    filepath.Join(home, ".esferazap"),
		LogLevel:   "info",
		Queue: QueueConfig{
			TickInterval: Duration(500 * time.Millisecond),
			MaxRetries:   3,
		},
		Pairing: PairingConfig{
			Timeout: Duration(2 * time.Minute),
		},
		AI: AIConfig{
			RequestTimeout: Duration(30 * time.Second),
			HistoryWindow:  20,
		},
		Transport: TransportConfig{
			Backend: "whatsmeow",
		},
	}
}

// Load reads config from the given path on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
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
