package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the exchange's static configuration, loaded once at
// process start from a config file, environment variables, or defaults.
type Config struct {
	// Server is the TCP listener the wire protocol is served on.
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// Admin is the read-only HTTP surface (health, metrics, snapshots).
	Admin struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"admin"`

	// Engine controls the matching core and account ledger.
	Engine struct {
		InitialEndowment    float64 `mapstructure:"initial_endowment"`
		SnapshotDepth       int     `mapstructure:"snapshot_depth"`
		CommandQueueDepth   int     `mapstructure:"command_queue_depth"`
		AllowShortSelling   bool    `mapstructure:"allow_short_selling"`
		PriceScale          int64   `mapstructure:"price_scale"`
	} `mapstructure:"engine"`

	// Ingress controls protocol-tier admission: rate limiting, version
	// handshake, and duplicate-command suppression.
	Ingress struct {
		MaxCommandsPerSecond int    `mapstructure:"max_commands_per_second"`
		ProtocolVersionRange string `mapstructure:"protocol_version_range"`
		IdempotencyTTLSecs   int    `mapstructure:"idempotency_ttl_seconds"`
	} `mapstructure:"ingress"`

	// Egress controls the per-client outbound fan-out.
	Egress struct {
		WorkerPoolSize       int `mapstructure:"worker_pool_size"`
		BreakerMaxFailures   int `mapstructure:"breaker_max_failures"`
	} `mapstructure:"egress"`

	// Logging selects the zap logger profile.
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

var (
	config  *Config
	loadErr error
	once    sync.Once
)

// Load loads the configuration from the given path (directory or file),
// falling back to environment variables (prefix EXCHANGE_) and defaults.
// It is idempotent for the process lifetime: subsequent calls return the
// first successfully loaded configuration.
func Load(configPath string) (*Config, error) {
	once.Do(func() {
		config = &Config{}
		setDefaults(config)

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/nexusfix")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("EXCHANGE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		// Unmarshal only sees keys viper knows about, so bind every key
		// explicitly: EXCHANGE_SERVER_PORT, EXCHANGE_ENGINE_SNAPSHOT_DEPTH, ...
		for _, key := range []string{
			"server.host", "server.port", "admin.host", "admin.port",
			"engine.initial_endowment", "engine.snapshot_depth", "engine.command_queue_depth",
			"engine.allow_short_selling", "engine.price_scale",
			"ingress.max_commands_per_second", "ingress.protocol_version_range", "ingress.idempotency_ttl_seconds",
			"egress.worker_pool_size", "egress.breaker_max_failures", "logging.level",
		} {
			_ = v.BindEnv(key)
		}

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				loadErr = fmt.Errorf("read config file: %w", readErr)
				return
			}
			// No config file present: defaults + env vars only.
		}

		if unmarshalErr := v.Unmarshal(config); unmarshalErr != nil {
			loadErr = fmt.Errorf("unmarshal config: %w", unmarshalErr)
			return
		}
	})

	return config, loadErr
}

func setDefaults(c *Config) {
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 9878

	c.Admin.Host = "0.0.0.0"
	c.Admin.Port = 9879

	c.Engine.InitialEndowment = 1000.0
	c.Engine.SnapshotDepth = 10
	c.Engine.CommandQueueDepth = 4096
	c.Engine.AllowShortSelling = true
	c.Engine.PriceScale = 10000 // 4 decimal places of precision

	c.Ingress.MaxCommandsPerSecond = 5000
	c.Ingress.ProtocolVersionRange = ">=1.0.0, <2.0.0"
	c.Ingress.IdempotencyTTLSecs = 30

	c.Egress.WorkerPoolSize = 64
	c.Egress.BreakerMaxFailures = 5

	c.Logging.Level = "info"
}

// NewLogger builds a zap.Logger matching the configured log level, the same
// production/development split the rest of the stack uses.
func NewLogger(c *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch c.Logging.Level {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
