package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrConflictingEndpoints is returned when both a CDP endpoint and a remote
// WebSocket endpoint are configured; the browser can only be reached one way.
var ErrConflictingEndpoints = errors.New("setting both browser.cdp_url and browser.remote_url is not supported")

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
}

// LoggerConfig controls the zap logger set up in internal/observability.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output with rotation (lumberjack). Empty LogFile disables it.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls how pages are obtained.
type BrowserConfig struct {
	// ExecPath overrides the Chrome binary used by the local launcher.
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`

	// CDPURL connects to an already-running browser over the DevTools
	// protocol instead of launching one. Mutually exclusive with RemoteURL.
	CDPURL string `mapstructure:"cdp_url" yaml:"cdp_url"`

	// RemoteURL connects to a remote browser's WebSocket endpoint.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`

	// LaunchFlags are extra command-line flags for the local launcher.
	// Ignored when connecting to a remote browser.
	LaunchFlags map[string]any `mapstructure:"launch_flags" yaml:"launch_flags"`

	// MaxPages caps the number of concurrently open pages.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`

	// TargetClosedMaxRetries bounds how many times a download is retried
	// when the page target disappears under it.
	TargetClosedMaxRetries int `mapstructure:"target_closed_max_retries" yaml:"target_closed_max_retries"`
}

// NetworkConfig controls navigation behavior.
type NetworkConfig struct {
	// NavigationTimeout bounds each navigation and each post-method load
	// wait. Zero means no explicit timeout.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`

	// NavigationRate throttles navigations per second. Zero disables it.
	NavigationRate float64 `mapstructure:"navigation_rate" yaml:"navigation_rate"`
}

// SetDefaults registers defaults on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "renderbridge")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_pages", 8)
	v.SetDefault("browser.target_closed_max_retries", 3)
	v.SetDefault("network.navigation_timeout", 30*time.Second)
}

// Load builds a Config from a viper instance.
//
// The navigation timeout may be provided as any numeric-coercible value (an
// int, a float, a numeric string) and is then interpreted as milliseconds,
// matching how crawler settings carry it; a duration string such as "30s"
// works as well.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Network.NavigationTimeout == 0 {
		if millis, ok := GetFloat(v, "network.navigation_timeout_ms"); ok {
			cfg.Network.NavigationTimeout = time.Duration(millis * float64(time.Millisecond))
		}
	}
	return &cfg, nil
}

// Validate rejects impossible combinations and warns about ignored settings.
func (c *Config) Validate(logger *zap.Logger) error {
	if c.Browser.CDPURL != "" && c.Browser.RemoteURL != "" {
		return ErrConflictingEndpoints
	}
	if (c.Browser.CDPURL != "" || c.Browser.RemoteURL != "") && len(c.Browser.LaunchFlags) > 0 {
		logger.Warn("Connecting to remote browser, ignoring browser.launch_flags")
	}
	return nil
}
