// Package config loads the bot configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// MainConfig holds the bot identity and data locations.
type MainConfig struct {
	BotToken     string  `toml:"botToken"`     // Telegram bot token; BOT_TOKEN env overrides
	DataDir      string  `toml:"dataDir"`      // directory for JSON state files
	DatabasePath string  `toml:"databasePath"` // sqlite database file
	Timezone     string  `toml:"timezone"`     // IANA name used for ledger dates, e.g. "Asia/Singapore"
	GlobalAdmins []int64 `toml:"globalAdmins"` // bootstrap global admin user IDs
	HealthAddr   string  `toml:"healthAddr"`   // listen address for the health endpoint, empty disables
	Mode         string  `toml:"mode"`         // "dev" or "release"
}

// LogConfig configures zap output and lumberjack rotation.
type LogConfig struct {
	LogPath    string `toml:"logPath"`
	FileName   string `toml:"fileName"`
	MaxSize    int    `toml:"maxSize"`    // MB per file
	MaxBackups int    `toml:"maxBackups"` // old files kept
	MaxAge     int    `toml:"maxAge"`     // days kept
	Level      string `toml:"level"`      // debug, info, warn, error
}

// Config aggregates all sub-configs.
type Config struct {
	MainConfig `toml:"mainConfig"`
	LogConfig  `toml:"logConfig"`
}

// Load reads the first configuration file found among the candidate paths and
// applies environment overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	paths := []string{
		"configs/config_local.toml",
		"configs/config.toml",
		"config.toml",
	}

	loaded := false
	for _, path := range paths {
		if _, err := toml.DecodeFile(path, cfg); err == nil {
			loaded = true
			break
		}
	}
	if !loaded {
		return nil, fmt.Errorf("could not find configuration file in any of the search paths")
	}

	if token := os.Getenv("BOT_TOKEN"); token != "" {
		cfg.BotToken = token
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is not set (config botToken or BOT_TOKEN env)")
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "relay.db"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Singapore"
	}
	if cfg.Mode == "" {
		cfg.Mode = "release"
	}
	return cfg, nil
}
