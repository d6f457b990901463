package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultChromeBin is used when CHROME_BIN is unset and the file exists
const DefaultChromeBin = "/usr/bin/chromium-browser"

// Config holds all runtime settings for pricewatch
type Config struct {
	DatabaseURL  string `mapstructure:"database_url" validate:"required"`
	SlackWebhook string `mapstructure:"slack_webhook" validate:"omitempty,url"`

	// Proxy settings apply only to ProxySite
	ProxyServer   string `mapstructure:"proxy_server"`
	ProxyUsername string `mapstructure:"proxy_username"`
	ProxyPassword string `mapstructure:"proxy_password"`
	ProxySite     string `mapstructure:"proxy_site" validate:"omitempty,oneof=flipkart amazon reliance croma"`

	ChromeBin      string `mapstructure:"chrome_bin"`
	Headless       bool   `mapstructure:"headless"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir" validate:"required"`
	Schedule       string `mapstructure:"schedule" validate:"required"`

	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error quiet"`
	LogJSON  bool   `mapstructure:"log_json"`

	Server ServerConfig `mapstructure:",squash"`
}

// ServerConfig holds the daemon HTTP settings
type ServerConfig struct {
	Host           string        `mapstructure:"server_host"`
	Port           int           `mapstructure:"server_port" validate:"min=1,max=65535"`
	AllowedOrigins []string      `mapstructure:"server_allowed_origins"`
	APIKey         string        `mapstructure:"server_api_key"`
	RateLimit      float64       `mapstructure:"server_rate_limit" validate:"gte=0"`
	RequestTimeout time.Duration `mapstructure:"server_request_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HasProxy reports whether a proxied channel should be launched
func (c *Config) HasProxy() bool {
	return c.ProxyServer != ""
}

// Load reads .env (if present) and the process environment into a Config.
// PRICEWATCH_CONFIG may name a YAML file whose keys are overridden by env vars.
func Load() (*Config, error) {
	// Missing .env is normal in containers
	_ = godotenv.Load()

	v := viper.New()
	if path := os.Getenv("PRICEWATCH_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return LoadFrom(v)
}

// LoadFrom builds a Config from an existing viper instance, applying defaults and env
// overrides.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.ProxySite = strings.ToLower(strings.TrimSpace(cfg.ProxySite))
	if cfg.ChromeBin == "" {
		if _, err := os.Stat(DefaultChromeBin); err == nil {
			cfg.ChromeBin = DefaultChromeBin
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("slack_webhook", "")
	v.SetDefault("proxy_server", "")
	v.SetDefault("proxy_username", "")
	v.SetDefault("proxy_password", "")
	v.SetDefault("proxy_site", "croma")
	v.SetDefault("chrome_bin", "")
	v.SetDefault("headless", true)
	v.SetDefault("diagnostics_dir", "debug_failures")
	v.SetDefault("schedule", "0 0 */12 * * *")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_allowed_origins", []string{"*"})
	v.SetDefault("server_api_key", "")
	v.SetDefault("server_rate_limit", 10.0)
	v.SetDefault("server_request_timeout", 30*time.Second)
}
