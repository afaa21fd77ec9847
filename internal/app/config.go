package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/prtl/prtl/internal/adapters/out/natsbus"
	"github.com/prtl/prtl/internal/adapters/out/ratelimit"
	"github.com/prtl/prtl/internal/adapters/out/redisstore"
	"github.com/prtl/prtl/internal/adapters/out/telemetry"
	"github.com/prtl/prtl/internal/domain"
	"github.com/prtl/prtl/internal/usecase/refresh"
)

// Cache backends.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Options are the process-level inputs shared by every run mode.
type Options struct {
	ConfigPath string
	EnvFile    string
}

// Config holds the application configuration.
type Config struct {
	Server struct {
		Port           int      `mapstructure:"port"`
		AdminPort      int      `mapstructure:"admin_port"`
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"server"`

	Bus struct {
		natsbus.Config `mapstructure:",squash"`
		Namespace      string `mapstructure:"namespace"`
	} `mapstructure:"bus"`

	Cache struct {
		Backend         string            `mapstructure:"backend"`
		Redis           redisstore.Config `mapstructure:"redis"`
		CleanupInterval time.Duration     `mapstructure:"cleanup_interval"`
	} `mapstructure:"cache"`

	Refresh refresh.Config `mapstructure:"refresh"`

	Discovery struct {
		RebroadcastInterval time.Duration `mapstructure:"rebroadcast_interval"`
	} `mapstructure:"discovery"`

	RateLimit ratelimit.Config `mapstructure:"rate_limit"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   struct {
			Enabled    bool   `mapstructure:"enabled"`
			Path       string `mapstructure:"path"`
			MaxSize    int    `mapstructure:"max_size"`
			MaxBackups int    `mapstructure:"max_backups"`
			MaxAge     int    `mapstructure:"max_age"`
		} `mapstructure:"file"`
	} `mapstructure:"logging"`

	Telemetry telemetry.Config `mapstructure:"telemetry"`

	Worker struct {
		UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	} `mapstructure:"worker"`
}

// Subjects returns the bus subjects for the configured namespace.
func (c Config) Subjects() domain.Subjects {
	return domain.NewSubjects(c.Bus.Namespace)
}

// initConfig loads the env file, then configuration from file and environment.
func initConfig(opts Options) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	if err := loadConfig(v, opts.ConfigPath); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.Cache.Backend != CacheBackendRedis {
		return errors.New("rate_limit.backend=redis requires cache.backend=redis")
	}
	return nil
}

// initLogger initializes the zerowrap logger.
func initLogger(cfg Config) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		logPath := cfg.Logging.File.Path
		if logPath == "" {
			logPath = "prtl.log"
		}

		log, cleanup, err := zerowrap.NewWithFile(logConfig, zerowrap.FileConfig{
			Enabled:    true,
			Path:       logPath,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAge:     cfg.Logging.File.MaxAge,
			Compress:   true,
		})
		if err != nil {
			return zerowrap.Default(), nil, fmt.Errorf("failed to create logger with file: %w", err)
		}
		return log, cleanup, nil
	}

	return zerowrap.New(logConfig), nil, nil
}

func loadConfig(v *viper.Viper, configPath string) error {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_port", 9090)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.name", "prtl")
	v.SetDefault("bus.namespace", domain.DefaultNamespace)
	v.SetDefault("bus.request_timeout", 30*time.Second)
	v.SetDefault("bus.reconnect_wait", 2*time.Second)
	v.SetDefault("bus.max_reconnects", -1)
	v.SetDefault("bus.drain_timeout", 30*time.Second)
	v.SetDefault("cache.backend", CacheBackendRedis)
	v.SetDefault("cache.redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("cache.redis.dial_timeout", 5*time.Second)
	v.SetDefault("cache.redis.read_timeout", 3*time.Second)
	v.SetDefault("cache.redis.write_timeout", 3*time.Second)
	v.SetDefault("cache.redis.pool_size", 0)
	v.SetDefault("cache.cleanup_interval", time.Minute)
	v.SetDefault("refresh.enabled", true)
	v.SetDefault("refresh.interval", 60*time.Second)
	v.SetDefault("refresh.threshold_ratio", 0.8)
	v.SetDefault("refresh.max_per_scan", 10)
	v.SetDefault("refresh.nominal_ttl", domain.DefaultCacheTTL)
	v.SetDefault("discovery.rebroadcast_interval", 0)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.global_rps", 1000)
	v.SetDefault("rate_limit.global_burst", 2000)
	v.SetDefault("rate_limit.per_ip_rps", 50)
	v.SetDefault("rate_limit.per_ip_burst", 100)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus", true)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.auth_token", "")
	v.SetDefault("worker.upstream_timeout", 30*time.Second)

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("PRTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}
