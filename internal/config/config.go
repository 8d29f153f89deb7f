package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "GATEWAY"
	defaultHTTPAddress    = "0.0.0.0:3015"
	defaultDatabasePath   = "gateway.db"
	defaultLogLevel       = "info"
	defaultGatewayURL     = "https://ipfs.io/ipfs/[CID]"
	defaultFetchTimeout   = 10 * time.Second
	defaultConcurrency    = 4
	defaultMaxBlockRange  = 45000
	defaultStatusTTLHours = 24
)

// AppConfig captures runtime configuration for the gateway.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	ContentGatewayURL  string
	ContentTimeout     time.Duration
	ContentConcurrency int
	GraphServiceURL    string
	ContentWatcherURL  string
	RedisAddress       string
	StatusTTL          time.Duration
	MaxBlockRange      uint64
}

// NewViper returns a viper instance with defaults and env bindings
// configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("content.gateway_url", defaultGatewayURL)
	configViper.SetDefault("content.fetch_timeout", defaultFetchTimeout)
	configViper.SetDefault("content.concurrency", defaultConcurrency)
	configViper.SetDefault("feed.max_block_range", defaultMaxBlockRange)
	configViper.SetDefault("status.ttl_hours", defaultStatusTTLHours)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		ContentGatewayURL:  configViper.GetString("content.gateway_url"),
		ContentTimeout:     configViper.GetDuration("content.fetch_timeout"),
		ContentConcurrency: configViper.GetInt("content.concurrency"),
		GraphServiceURL:    configViper.GetString("graph.base_url"),
		ContentWatcherURL:  configViper.GetString("chain.base_url"),
		RedisAddress:       configViper.GetString("redis.address"),
		StatusTTL:          time.Duration(configViper.GetInt("status.ttl_hours")) * time.Hour,
		MaxBlockRange:      configViper.GetUint64("feed.max_block_range"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GraphServiceURL) == "" {
		return fmt.Errorf("graph.base_url is required")
	}
	if strings.TrimSpace(c.ContentWatcherURL) == "" {
		return fmt.Errorf("chain.base_url is required")
	}
	if c.ContentGatewayURL != "" && !strings.Contains(c.ContentGatewayURL, "[CID]") {
		return fmt.Errorf("content.gateway_url must contain a [CID] placeholder")
	}
	return nil
}
