package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	DefaultRegistryURL           = "https://thunderstore.io/c/valheim/api/v1"
	DefaultMaxConcurrentInstalls = 5
	DefaultLinkStrategy          = "auto"
	defaultUserAgent             = "deftheim/dev (unknown-user)"
)

// Config holds all configuration for the application.
// Values are loaded by Viper from a config file and/or environment variables.
type Config struct {
	GameDir               string  `mapstructure:"GAME_DIR"`
	DataDir               string  `mapstructure:"DATA_DIR"`
	RepositoryDir         string  `mapstructure:"REPOSITORY_DIR"`
	RegistryURL           string  `mapstructure:"REGISTRY_URL"`
	UserAgent             string  `mapstructure:"USERAGENT"`
	MaxConcurrentInstalls int     `mapstructure:"MAX_CONCURRENT_INSTALLS"`
	LinkStrategy          string  `mapstructure:"LINK_STRATEGY"` // auto, symlink or hardlink
	RequestsPerSecond     float64 `mapstructure:"REQUESTS_PER_SECOND"`
	DatabasePath          string  `mapstructure:"-"` // Not from env, derived
	PluginsDir            string  `mapstructure:"-"` // Not from env, derived
}

var envKeys = []string{
	"GAME_DIR",
	"DATA_DIR",
	"REPOSITORY_DIR",
	"REGISTRY_URL",
	"USERAGENT",
	"MAX_CONCURRENT_INSTALLS",
	"LINK_STRATEGY",
	"REQUESTS_PER_SECOND",
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)   // Path to look for the config file in
	viper.SetConfigName(".env") // Name of config file (without extension)
	viper.SetConfigType("env")  // REQUIRED if the config file does not have the extension in the name

	vipErr := viper.ReadInConfig()
	if _, ok := vipErr.(viper.ConfigFileNotFoundError); ok {
		slog.Info("Config file (.env) not found, relying on environment variables.")
	} else if vipErr != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", vipErr)
	}

	viper.AutomaticEnv()
	for _, key := range envKeys {
		if err := viper.BindEnv(strings.ToLower(key), key); err != nil {
			slog.Warn("Unable to bind env var", "key", key, "error", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", err)
	}

	processConfigDefaults(&config)

	if err := validateAndEnsureDirectories(&config); err != nil {
		return Config{}, err
	}

	return config, nil
}

// processConfigDefaults fills every optional setting that was left empty.
func processConfigDefaults(config *Config) {
	if config.RegistryURL == "" {
		config.RegistryURL = DefaultRegistryURL
	}
	config.RegistryURL = strings.TrimRight(config.RegistryURL, "/")

	if config.MaxConcurrentInstalls <= 0 {
		config.MaxConcurrentInstalls = DefaultMaxConcurrentInstalls
	}

	switch strings.ToLower(config.LinkStrategy) {
	case "symlink", "hardlink":
		config.LinkStrategy = strings.ToLower(config.LinkStrategy)
	case "", "auto":
		config.LinkStrategy = DefaultLinkStrategy
	default:
		slog.Warn("Unknown LINK_STRATEGY, falling back to auto", "value", config.LinkStrategy)
		config.LinkStrategy = DefaultLinkStrategy
	}

	if config.RequestsPerSecond < 0 {
		config.RequestsPerSecond = 0
	}

	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
		slog.Warn("USERAGENT not set in config or environment, using default.")
	}

	if config.DataDir == "" {
		config.DataDir = filepath.Join(xdg.DataHome, "deftheim")
	}
	if config.RepositoryDir == "" {
		config.RepositoryDir = filepath.Join(config.DataDir, "repository")
	}
}

// validateAndEnsureDirectories checks required settings, creates the working
// directories and derives the database and plugin paths.
func validateAndEnsureDirectories(config *Config) error {
	if config.GameDir == "" {
		slog.Error("GAME_DIR is not set")
		return fmt.Errorf("GAME_DIR is required")
	}
	if config.DataDir == "" || config.RepositoryDir == "" {
		return fmt.Errorf("DATA_DIR and REPOSITORY_DIR must be resolved before validation")
	}

	config.PluginsDir = filepath.Join(config.GameDir, "BepInEx", "plugins")

	for _, dir := range []string{config.DataDir, config.RepositoryDir, config.PluginsDir} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}

	config.DatabasePath = filepath.Join(config.DataDir, "deftheim.db")
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		slog.Info("Directory does not exist, creating it", "path", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "path", dir, "error", err)
			return err
		}
		return nil
	}
	if err != nil {
		slog.Error("Failed to check directory", "path", dir, "error", err)
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	return nil
}
