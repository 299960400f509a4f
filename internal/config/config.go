// Package config loads service configuration from an optional file and the
// environment. Environment keys use the WORKFLOWS_ prefix with sections
// joined by underscores, e.g. WORKFLOWS_REDIS_ADDR. DATABASE_URL, PORT and
// LOG_LEVEL are also honoured unprefixed.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "WORKFLOWS"

// Mail providers
const (
	MailProviderLog  = "log"
	MailProviderHTTP = "http"
)

type Config struct {
	HTTP     HTTP
	Database Database
	Redis    Redis
	Mail     Mail
	Log      Log
	Metrics  Metrics
}

type HTTP struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	SlowRequest     time.Duration
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

// Redis enables the shared rules cache when Enable is set
type Redis struct {
	Enable   bool
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
	CacheTTL time.Duration
}

type Mail struct {
	Provider          string
	Endpoint          string
	APIKey            string
	From              string
	FallbackRecipient string
	Timeout           time.Duration
	RetryCount        int
}

type Log struct {
	Level       string
	SampleRate  int
	OTELEnabled bool
	ServiceName string
}

type Metrics struct {
	Enable bool
	Path   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readTimeout", 15*time.Second)
	v.SetDefault("http.writeTimeout", 15*time.Second)
	v.SetDefault("http.idleTimeout", 60*time.Second)
	v.SetDefault("http.requestTimeout", 60*time.Second)
	v.SetDefault("http.shutdownTimeout", 30*time.Second)
	v.SetDefault("http.slowRequest", 500*time.Millisecond)

	v.SetDefault("database.url", "")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 5*time.Minute)
	v.SetDefault("database.migrationsPath", "file://migrations")

	v.SetDefault("redis.enable", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.cacheTTL", 5*time.Minute)

	v.SetDefault("mail.provider", MailProviderLog)
	v.SetDefault("mail.endpoint", "")
	v.SetDefault("mail.apiKey", "")
	v.SetDefault("mail.from", "workflows@example.com")
	v.SetDefault("mail.fallbackRecipient", "notifications@example.com")
	v.SetDefault("mail.timeout", 10*time.Second)
	v.SetDefault("mail.retryCount", 2)

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.sampleRate", 1)
	v.SetDefault("log.otelEnabled", false)
	v.SetDefault("log.serviceName", "workflows")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configuration. paths are optional config files (any format
// viper understands); a missing file is an error, no file at all is fine.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by container platforms
	_ = v.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("http.port", envPrefix+"_HTTP_PORT", "PORT")
	_ = v.BindEnv("log.level", envPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.otelEnabled", envPrefix+"_LOG_OTELENABLED", "OTEL_ENABLED")
	_ = v.BindEnv("log.serviceName", envPrefix+"_LOG_SERVICENAME", "OTEL_SERVICE_NAME")
	_ = v.BindEnv("log.sampleRate", envPrefix+"_LOG_SAMPLERATE", "ERROR_SAMPLE_RATE")

	for _, path := range paths {
		if path == "" {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	switch c.Mail.Provider {
	case MailProviderLog:
	case MailProviderHTTP:
		if c.Mail.Endpoint == "" {
			errs = append(errs, errors.New("mail.endpoint is required for the http mail provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail.provider %q", c.Mail.Provider))
	}
	if c.Redis.Enable && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}

// RequireDatabase reports a missing database URL
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database.url (or DATABASE_URL) is required")
	}
	return nil
}
