// Package config loads waypoint.yaml with WAYPOINT_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	werrors "github.com/toyz/waypoint/internal/errors"
	"github.com/toyz/waypoint/pkg/waypoint"
)

// EnvPrefix prefixes every environment override, e.g. WAYPOINT_SERVER_PORT.
const EnvPrefix = "WAYPOINT"

// Config represents the waypoint configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig selects and binds the hosting router.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Driver          string        `mapstructure:"driver"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies lists addresses or CIDR ranges whose forwarding
	// headers identify the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AppConfig configures the waypoint App.
type AppConfig struct {
	GlobalPrefix    string `mapstructure:"global_prefix"`
	Version         string `mapstructure:"version"`
	ConvertResponse bool   `mapstructure:"convert_response"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	UploadDir       string `mapstructure:"upload_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	// Admins are usernames issued the admin role.
	Admins []string `mapstructure:"admins"`
}

// RateLimitConfig selects the limiter backend: memory or redis.
type RateLimitConfig struct {
	Backend string        `mapstructure:"backend"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// SessionConfig selects the session store backend: memory or redis.
type SessionConfig struct {
	Backend string        `mapstructure:"backend"`
	Cookie  string        `mapstructure:"cookie"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Drivers lists the supported server drivers.
var Drivers = []string{"nethttp", "echo", "gin", "fiber", "chi", "mux"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.driver", "echo")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("app.global_prefix", "")
	v.SetDefault("app.version", "")
	v.SetDefault("app.convert_response", true)
	v.SetDefault("app.max_body_bytes", 10<<20)
	v.SetDefault("app.upload_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "waypoint")
	v.SetDefault("auth.admins", []string{})

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.cookie", "waypoint_session")
	v.SetDefault("session.ttl", 24*time.Hour)
}

// Load reads the configuration. An empty path searches for waypoint.yaml
// in the working directory; a missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("waypoint")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, werrors.WrapConfigurationError("file", "read", err).
				WithContext("path", v.ConfigFileUsed()).
				WithSuggestion("check the --config path and that the file is valid YAML")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, werrors.WrapConfigurationError("file", "decode", err).
			WithSuggestion("check value types, durations are written like 30s or 1m")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations viper cannot.
func (c *Config) Validate() error {
	if !contains(Drivers, c.Server.Driver) {
		return invalid("server.driver", "must be one of %s, got: %s", strings.Join(Drivers, ", "), c.Server.Driver).
			WithSuggestion("pick a driver with --driver or server.driver")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port", "out of range: %d", c.Server.Port)
	}
	if _, err := waypoint.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return invalid("server.trusted_proxies", "%v", err).
			WithSuggestion("list proxy addresses or CIDR ranges like 10.0.0.0/8")
	}
	if p := c.App.GlobalPrefix; p != "" && (!strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/")) {
		return invalid("app.global_prefix", "must start and not end with '/', got: %s", p).
			WithSuggestion("write the prefix like /api")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return invalid("log.format", "must be json or console, got: %s", c.Log.Format)
	}
	for key, backend := range map[string]string{"rate_limit.backend": c.RateLimit.Backend, "session.backend": c.Session.Backend} {
		switch backend {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				return invalid(key, "is redis but redis.addr is empty").
					WithSuggestion("set redis.addr (WAYPOINT_REDIS_ADDR) or switch the backend to memory")
			}
		default:
			return invalid(key, "must be memory or redis, got: %s", backend)
		}
	}
	if c.RateLimit.Limit < 0 {
		return invalid("rate_limit.limit", "must not be negative, got: %d", c.RateLimit.Limit)
	}
	return nil
}

// invalid reports a bad value for key as a configuration error.
func invalid(key, format string, args ...any) *werrors.BaseError {
	return werrors.Newf(werrors.ConfigurationErrorCode, key+" "+format, args...).
		WithContext("key", key)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
