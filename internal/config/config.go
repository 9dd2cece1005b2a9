package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	VaultPath      string     `mapstructure:"vault_path" validate:"required,dir"`
	API            APIConfig  `mapstructure:"api" validate:"required"`
	Dirs           DirsConfig `mapstructure:"directories"`
	StateFile      string     `mapstructure:"state_file"`
	Sync           SyncConfig `mapstructure:"sync"`
	IgnorePatterns []string   `mapstructure:"ignore_patterns"`
}

// APIConfig holds Readwise API settings
type APIConfig struct {
	Token          string `mapstructure:"token" validate:"required"`
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DirsConfig holds the vault output directories. Relative entries are
// resolved against vault_path at load time.
type DirsConfig struct {
	Documents    string `mapstructure:"documents"`
	Highlights   string `mapstructure:"highlights"`
	DailyReviews string `mapstructure:"daily_reviews"`
	Archives     string `mapstructure:"archives"`
}

// SyncConfig holds import/backfill behavior settings
type SyncConfig struct {
	PageSize          int `mapstructure:"page_size"`
	HighlightPageSize int `mapstructure:"highlight_page_size"`
	PageThrottleMs    int `mapstructure:"page_throttle_ms"`
	MaxPages          int `mapstructure:"max_pages"`
	MaxHighlightPages int `mapstructure:"max_highlight_pages"`
	RetryAttempts     int `mapstructure:"retry_attempts"`
	RetryBaseDelayS   int `mapstructure:"retry_base_delay_s"`
	RetryMaxDelayS    int `mapstructure:"retry_max_delay_s"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://readwise.io",
			TimeoutSeconds: 30,
		},
		Dirs: DirsConfig{
			Documents:    "Readwise/Documents",
			Highlights:   "Readwise/Highlights",
			DailyReviews: "Readwise/Daily Reviews",
			Archives:     "Archives/Readwise",
		},
		StateFile: ".readvault/state.json",
		Sync: SyncConfig{
			PageSize:          50,
			HighlightPageSize: 50,
			PageThrottleMs:    500,
			MaxPages:          100,
			MaxHighlightPages: 1000,
			RetryAttempts:     3,
			RetryBaseDelayS:   5,
			RetryMaxDelayS:    60,
		},
		IgnorePatterns: []string{
			".obsidian/**",
			".trash/**",
			".git/**",
			"**/.DS_Store",
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("api.base_url", defaults.API.BaseURL)
	v.SetDefault("api.timeout_seconds", defaults.API.TimeoutSeconds)
	v.SetDefault("directories.documents", defaults.Dirs.Documents)
	v.SetDefault("directories.highlights", defaults.Dirs.Highlights)
	v.SetDefault("directories.daily_reviews", defaults.Dirs.DailyReviews)
	v.SetDefault("directories.archives", defaults.Dirs.Archives)
	v.SetDefault("state_file", defaults.StateFile)
	v.SetDefault("sync.page_size", defaults.Sync.PageSize)
	v.SetDefault("sync.highlight_page_size", defaults.Sync.HighlightPageSize)
	v.SetDefault("sync.page_throttle_ms", defaults.Sync.PageThrottleMs)
	v.SetDefault("sync.max_pages", defaults.Sync.MaxPages)
	v.SetDefault("sync.max_highlight_pages", defaults.Sync.MaxHighlightPages)
	v.SetDefault("sync.retry_attempts", defaults.Sync.RetryAttempts)
	v.SetDefault("sync.retry_base_delay_s", defaults.Sync.RetryBaseDelayS)
	v.SetDefault("sync.retry_max_delay_s", defaults.Sync.RetryMaxDelayS)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvPrefix("READVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in the token
	cfg.API.Token = os.ExpandEnv(cfg.API.Token)

	// Expand vault path and resolve everything under it
	cfg.VaultPath = expandPath(cfg.VaultPath)
	cfg.Dirs.Documents = cfg.resolve(cfg.Dirs.Documents)
	cfg.Dirs.Highlights = cfg.resolve(cfg.Dirs.Highlights)
	cfg.Dirs.DailyReviews = cfg.resolve(cfg.Dirs.DailyReviews)
	cfg.Dirs.Archives = cfg.resolve(cfg.Dirs.Archives)
	cfg.StateFile = cfg.resolve(cfg.StateFile)

	// Validate
	validate := validator.New()

	// Register custom validation for directory existence
	validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	})

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// resolve joins a relative path onto the vault path
func (c *Config) resolve(path string) string {
	path = expandPath(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.VaultPath, path)
}

// DocumentScanDirs returns the directories consulted for document
// deduplication. Archives are included so moved files still count as
// imported.
func (c *Config) DocumentScanDirs() []string {
	return []string{c.Dirs.Documents, c.Dirs.Archives, c.Dirs.DailyReviews}
}

// ConfigDir returns the directory where the config file is searched for
// and written by interactive setup.
func ConfigDir() string {
	return getConfigDir()
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "readvault")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "readvault")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "readvault")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "readvault")
	}
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
