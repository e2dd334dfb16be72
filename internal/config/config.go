// internal/config/config.go
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DBURL              string        `mapstructure:"DB_URL"`
	ListenAddr         string        `mapstructure:"LISTEN_ADDR"`
	GithubAppID        int64         `mapstructure:"GITHUB_APP_ID"`
	GithubKeyPath      string        `mapstructure:"GITHUB_APP_PRIVATE_KEY_PATH"`
	GithubToken        string        `mapstructure:"GITHUB_TOKEN"`
	WebhookSecret      string        `mapstructure:"GITHUB_WEBHOOK_SECRET"`
	TelegramToken      string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
	SyncInterval       time.Duration `mapstructure:"SYNC_INTERVAL"`
	ReminderInterval   time.Duration `mapstructure:"REMINDER_INTERVAL"`
	GithubKey          []byte        `mapstructure:"-"`
}

// LoadConfig reads configuration from a .env file and/or environment
// variables. Either a GitHub App credential pair or a personal access
// token must be configured.
func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("SYNC_INTERVAL", "1m")
	viper.SetDefault("REMINDER_INTERVAL", "30m")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}

	hasApp := cfg.GithubAppID != 0 && cfg.GithubKeyPath != ""
	if !hasApp && cfg.GithubToken == "" {
		return nil, errors.New("either GITHUB_APP_ID + GITHUB_APP_PRIVATE_KEY_PATH or GITHUB_TOKEN must be set")
	}
	if hasApp {
		key, err := os.ReadFile(cfg.GithubKeyPath)
		if err != nil {
			return nil, errors.New("reading GITHUB_APP_PRIVATE_KEY_PATH: " + err.Error())
		}
		cfg.GithubKey = key
	}

	if cfg.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is a required configuration field")
	}

	return &cfg, nil
}
