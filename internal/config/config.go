// Package config loads the coordinator configuration from an optional YAML
// file and environment overrides.
package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MiB = 1024 * 1024

	DefaultListen            = ":8080"
	DefaultLogLevel          = "info"
	DefaultChunkSize         = 10 * MiB
	DefaultReplicationFactor = 3
	DefaultMaxUploadBytes    = 1000 * MiB
	DefaultPushTimeout       = 30 * time.Second
	DefaultFetchTimeout      = 10 * time.Second
	DefaultLogRetention      = 100
	DefaultLogsExposed       = 50
)

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second, <= 0 disables
	Burst int     `yaml:"burst"`
}

type RateLimiters struct {
	Nodes   RateLimiterConfig `yaml:"nodes"`
	Uploads RateLimiterConfig `yaml:"uploads"`
}

type Coordinator struct {
	Listen            string        `yaml:"listen"`
	LogLevel          string        `yaml:"logLevel"`
	ChunkSize         int64         `yaml:"chunkSize"`
	ReplicationFactor int           `yaml:"replicationFactor"`
	MaxUploadBytes    int64         `yaml:"maxUploadBytes"`
	PushTimeout       time.Duration `yaml:"pushTimeout"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	LogRetention      int           `yaml:"logRetention"`
	LogsExposed       int           `yaml:"logsExposed"`
	RateLimiters      RateLimiters  `yaml:"rateLimiters"`
	TrustedProxies    []string      `yaml:"trustedProxies,omitempty"` // Peers whose X-Forwarded-For is believed
	AllowedOrigins    []string      `yaml:"allowedOrigins,omitempty"` // Extra origins allowed on the log stream
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrListenMissing            = errors.New("listen is missing in config")
	ErrChunkSizeInvalid         = errors.New("chunkSize must be positive")
	ErrReplicationFactorInvalid = errors.New("replicationFactor must be at least 1")
	ErrMaxUploadBytesInvalid    = errors.New("maxUploadBytes must be positive")
	ErrTimeoutInvalid           = errors.New("pushTimeout and fetchTimeout must be positive")
	ErrLogRetentionInvalid      = errors.New("logRetention must be positive")
	ErrLogsExposedInvalid       = errors.New("logsExposed must be positive and not exceed logRetention")
	ErrRateLimiterBurstMissing  = errors.New("rateLimiters burst must be positive when limit is set")
	ErrUnknownLogLevel          = errors.New("logLevel must be one of debug, info, warn, error")
)

// Default returns the built-in configuration.
func Default() *Coordinator {
	return &Coordinator{
		Listen:            DefaultListen,
		LogLevel:          DefaultLogLevel,
		ChunkSize:         DefaultChunkSize,
		ReplicationFactor: DefaultReplicationFactor,
		MaxUploadBytes:    DefaultMaxUploadBytes,
		PushTimeout:       DefaultPushTimeout,
		FetchTimeout:      DefaultFetchTimeout,
		LogRetention:      DefaultLogRetention,
		LogsExposed:       DefaultLogsExposed,
		RateLimiters: RateLimiters{
			Nodes:   RateLimiterConfig{Limit: 10, Burst: 20},
			Uploads: RateLimiterConfig{Limit: 1, Burst: 5},
		},
		TrustedProxies: []string{"127.0.0.1", "::1"},
	}
}

// Load reads configFile over the defaults. An empty path yields the defaults.
// Environment overrides are applied afterwards and the result is validated.
func Load(configFile string) (*Coordinator, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, ErrConfigFileUnreadable
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, ErrConfigFileUnmarshallable
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Coordinator) applyEnv() {
	if v := os.Getenv("COORDINATOR_ADDR"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for values the coordinator cannot run with.
func (c *Coordinator) Validate() error {
	if c.Listen == "" {
		return ErrListenMissing
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrUnknownLogLevel
	}
	if c.ChunkSize <= 0 {
		return ErrChunkSizeInvalid
	}
	if c.ReplicationFactor < 1 {
		return ErrReplicationFactorInvalid
	}
	if c.MaxUploadBytes <= 0 {
		return ErrMaxUploadBytesInvalid
	}
	if c.PushTimeout <= 0 || c.FetchTimeout <= 0 {
		return ErrTimeoutInvalid
	}
	if c.LogRetention <= 0 {
		return ErrLogRetentionInvalid
	}
	if c.LogsExposed <= 0 || c.LogsExposed > c.LogRetention {
		return ErrLogsExposedInvalid
	}
	for _, rl := range []RateLimiterConfig{c.RateLimiters.Nodes, c.RateLimiters.Uploads} {
		if rl.Limit > 0 && rl.Burst <= 0 {
			return ErrRateLimiterBurstMissing
		}
	}
	return nil
}
