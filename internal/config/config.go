package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "STUDYHALL"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "studyhall.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultAuthIssuer        = "studyhall-auth"
	defaultAuthAudience      = "studyhall-api"
	defaultTokenTTLMinutes   = 60
	defaultAllowedOrigins    = "http://localhost:5173,http://localhost:3000"
	defaultSendTimeout       = 5 * time.Second
	defaultMessageLimit      = 100
	defaultMaxMessageLimit   = 500
	defaultAIModel           = "gemini-2.0-flash"
	defaultAITimeout         = 60 * time.Second
	defaultAIMaxRetries      = 2
	defaultChannelCacheSize  = 512
	defaultChannelCacheTTL   = 5 * time.Minute
	defaultReconcileInterval = 0
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress       string
	LogLevel          string
	LogFormat         string
	DatabaseDriver    string
	DatabaseDSN       string
	SigningSecret     string
	TokenIssuer       string
	TokenAudience     string
	TokenTTL          time.Duration
	AllowedOrigins    []string
	SendTimeout       time.Duration
	MessageLimit      int
	MaxMessageLimit   int
	AIBaseURL         string
	AIAPIKey          string
	AIModel           string
	AITimeout         time.Duration
	AIMaxRetries      int
	ChannelCacheSize  int
	ChannelCacheTTL   time.Duration
	ReconcileInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("realtime.send_timeout", defaultSendTimeout)
	configViper.SetDefault("chat.message_limit", defaultMessageLimit)
	configViper.SetDefault("chat.max_message_limit", defaultMaxMessageLimit)
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("ai.timeout", defaultAITimeout)
	configViper.SetDefault("ai.max_retries", defaultAIMaxRetries)
	configViper.SetDefault("cache.channel_size", defaultChannelCacheSize)
	configViper.SetDefault("cache.channel_ttl", defaultChannelCacheTTL)
	configViper.SetDefault("reconcile.interval", defaultReconcileInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenIssuer:       configViper.GetString("auth.issuer"),
		TokenAudience:     configViper.GetString("auth.audience"),
		TokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:    splitList(configViper.GetString("cors.allowed_origins")),
		SendTimeout:       configViper.GetDuration("realtime.send_timeout"),
		MessageLimit:      configViper.GetInt("chat.message_limit"),
		MaxMessageLimit:   configViper.GetInt("chat.max_message_limit"),
		AIBaseURL:         strings.TrimSpace(configViper.GetString("ai.base_url")),
		AIAPIKey:          strings.TrimSpace(configViper.GetString("ai.api_key")),
		AIModel:           strings.TrimSpace(configViper.GetString("ai.model")),
		AITimeout:         configViper.GetDuration("ai.timeout"),
		AIMaxRetries:      configViper.GetInt("ai.max_retries"),
		ChannelCacheSize:  configViper.GetInt("cache.channel_size"),
		ChannelCacheTTL:   configViper.GetDuration("cache.channel_ttl"),
		ReconcileInterval: configViper.GetDuration("reconcile.interval"),
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
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.MessageLimit <= 0 || c.MaxMessageLimit < c.MessageLimit {
		return fmt.Errorf("chat.message_limit must be positive and not exceed chat.max_message_limit")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("realtime.send_timeout must be positive")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}
	if c.AIMaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
