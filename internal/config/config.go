package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	SES      SESConfig      `yaml:"ses"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Warmup   WarmupConfig   `yaml:"warmup"`
}

// ServerConfig holds the ops HTTP endpoint settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the redis connection used for the warmup scheduler
// lock and the lifecycle-event idempotency keys. Optional: with an empty
// address the lock falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES transport credentials.
type SESConfig struct {
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Region         string `yaml:"region"`
	ConfigSet      string `yaml:"config_set"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-send transport timeout.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchConfig tunes the campaign batch scheduler.
type DispatchConfig struct {
	WindowsPerHour      int `yaml:"windows_per_hour"`
	MaxAttempts         int `yaml:"max_attempts"`
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	MaxJobsPerTick      int `yaml:"max_jobs_per_tick"`
	SendConcurrency     int `yaml:"send_concurrency"`
}

// TickInterval returns how often the campaign scheduler ticks.
func (c DispatchConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// WindowDuration returns the throttle window length.
func (c DispatchConfig) WindowDuration() time.Duration {
	return time.Hour / time.Duration(c.WindowsPerHour)
}

// WarmupConfig tunes the warmup volume scheduler and sender.
type WarmupConfig struct {
	ReplyDomain         string `yaml:"reply_domain"`
	TickIntervalSeconds int    `yaml:"tick_interval_seconds"`
	SenderMaxPerTick    int    `yaml:"sender_max_per_tick"`
	LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
}

// TickInterval returns how often the warmup schedulers tick.
func (c WarmupConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LockTTL returns the scheduler lock TTL.
func (c WarmupConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Dispatch.WindowsPerHour == 0 {
		cfg.Dispatch.WindowsPerHour = 6
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.TickIntervalSeconds == 0 {
		cfg.Dispatch.TickIntervalSeconds = 60
	}
	if cfg.Dispatch.MaxJobsPerTick == 0 {
		cfg.Dispatch.MaxJobsPerTick = 50
	}
	if cfg.Dispatch.SendConcurrency == 0 {
		cfg.Dispatch.SendConcurrency = 4
	}
	if cfg.Warmup.ReplyDomain == "" {
		cfg.Warmup.ReplyDomain = "warmup.reply.local"
	}
	if cfg.Warmup.TickIntervalSeconds == 0 {
		cfg.Warmup.TickIntervalSeconds = 300
	}
	if cfg.Warmup.SenderMaxPerTick == 0 {
		cfg.Warmup.SenderMaxPerTick = 20
	}
	if cfg.Warmup.LockTTLSeconds == 0 {
		cfg.Warmup.LockTTLSeconds = 600
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment. If path is empty or the
// file is missing, configuration comes entirely from defaults + env.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			cfg = &Config{}
			applyDefaults(cfg)
		} else {
			cfg = loaded
		}
	} else {
		cfg = &Config{}
		applyDefaults(cfg)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_CONFIG_SET"); v != "" {
		cfg.SES.ConfigSet = v
	}
	if v := os.Getenv("WARMUP_REPLY_DOMAIN"); v != "" {
		cfg.Warmup.ReplyDomain = v
	}
	if v := os.Getenv("DISPATCH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.MaxAttempts = n
		}
	}
	if v := os.Getenv("DISPATCH_WINDOWS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.WindowsPerHour = n
		}
	}

	return cfg, nil
}
