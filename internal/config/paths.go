package config

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".esferazap", "config.toml")
}

// DBPath returns the app-owned esferazap.db path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "esferazap.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "esferazapd.log")
}

// BotDir returns the per-bot directory holding channel credentials.
func (c *Config) BotDir(botID string) string {
	return filepath.Join(c.DataDir, "bots", botID)
}

// ChannelDBPath returns the per-bot channel session store path.
func (c *Config) ChannelDBPath(botID string) string {
	return filepath.Join(c.BotDir(botID), "channel.db")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Join(c.DataDir, "logs"),
		filepath.Join(c.DataDir, "bots"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
