// Package config loads diactl and diamock settings from defaults, an
// optional YAML file, DIA_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Kamranmsyv/dia"
	"github.com/Kamranmsyv/dia/internal/logging"
)

// Keys understood by Load.
const (
	KeyPlatform         = "platform"
	KeyEndpointsWeb     = "endpoints.web"
	KeyEndpointsNative  = "endpoints.native"
	KeyEndpointOverride = "endpoints.override"
	KeyTimeout          = "timeout"
	KeyRateLimitRPS     = "rate_limit.rps"
	KeyRateLimitBurst   = "rate_limit.burst"
	KeyToken            = "token"
	KeyLogLevel         = "log.level"
	KeyLogFormat        = "log.format"
	KeyWatchInterval    = "watch.interval"
	KeyWatchMetricsAddr = "watch.metrics_addr"
	KeyMockAddr         = "mock.addr"
	KeyMockFundsFile    = "mock.funds_file"
)

const (
	localEndpoint  = "http://localhost:5001"
	lanEndpoint    = "http://192.168.31.8:5001"
	tunnelEndpoint = "https://cuts-miller-exterior-tobacco.trycloudflare.com"
)

// DefaultTopology is the endpoint order the app ships with. A browser
// build tries the same machine first; a device build tries the public
// tunnel first.
func DefaultTopology() dia.Topology {
	return dia.Topology{
		dia.PlatformWeb:    {localEndpoint, lanEndpoint, tunnelEndpoint},
		dia.PlatformNative: {tunnelEndpoint, lanEndpoint, localEndpoint},
	}
}

// Config is the resolved configuration.
type Config struct {
	Platform  dia.Platform
	Topology  dia.Topology
	Override  []string
	Timeout   time.Duration
	RateLimit RateLimit
	Token     string
	Log       Log
	Watch     Watch
	Mock      Mock
}

type RateLimit struct {
	RPS   float64
	Burst int
}

type Log struct {
	Level  string
	Format logging.Format
}

type Watch struct {
	Interval    time.Duration
	MetricsAddr string
}

type Mock struct {
	Addr      string
	FundsFile string
}

// New returns a viper instance with defaults set and DIA_* environment
// lookups enabled. Nested keys map to underscores: log.level is read
// from DIA_LOG_LEVEL.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("DIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	topo := DefaultTopology()
	v.SetDefault(KeyPlatform, string(dia.PlatformNative))
	v.SetDefault(KeyEndpointsWeb, topo[dia.PlatformWeb])
	v.SetDefault(KeyEndpointsNative, topo[dia.PlatformNative])
	v.SetDefault(KeyEndpointOverride, []string{})
	v.SetDefault(KeyTimeout, 8*time.Second)
	v.SetDefault(KeyRateLimitRPS, 0.0)
	v.SetDefault(KeyRateLimitBurst, 1)
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, string(logging.FormatText))
	v.SetDefault(KeyWatchInterval, 30*time.Second)
	v.SetDefault(KeyWatchMetricsAddr, ":9105")
	v.SetDefault(KeyMockAddr, ":5001")
	v.SetDefault(KeyMockFundsFile, "")
}

// Load reads the optional config file at path and resolves every key.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Platform: dia.Platform(strings.ToLower(v.GetString(KeyPlatform))),
		Topology: dia.Topology{
			dia.PlatformWeb:    list(v, KeyEndpointsWeb),
			dia.PlatformNative: list(v, KeyEndpointsNative),
		},
		Override: list(v, KeyEndpointOverride),
		Timeout:  v.GetDuration(KeyTimeout),
		RateLimit: RateLimit{
			RPS:   v.GetFloat64(KeyRateLimitRPS),
			Burst: v.GetInt(KeyRateLimitBurst),
		},
		Token: v.GetString(KeyToken),
		Log: Log{
			Level:  v.GetString(KeyLogLevel),
			Format: logging.Format(v.GetString(KeyLogFormat)),
		},
		Watch: Watch{
			Interval:    v.GetDuration(KeyWatchInterval),
			MetricsAddr: v.GetString(KeyWatchMetricsAddr),
		},
		Mock: Mock{
			Addr:      v.GetString(KeyMockAddr),
			FundsFile: v.GetString(KeyMockFundsFile),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot coerce on its own.
func (c *Config) Validate() error {
	switch c.Platform {
	case dia.PlatformWeb, dia.PlatformNative:
	default:
		return fmt.Errorf("config: unknown platform %q (want web or native)", c.Platform)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("config: rate_limit.rps must not be negative")
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("config: watch.interval must be positive, got %s", c.Watch.Interval)
	}
	if len(c.Endpoints()) == 0 {
		return fmt.Errorf("config: no endpoints for platform %q", c.Platform)
	}
	return nil
}

// Endpoints returns the ordered list the client will use.
func (c *Config) Endpoints() []string {
	if len(c.Override) > 0 {
		return c.Override
	}
	return c.Topology[c.Platform]
}

// ClientOptions translates the configuration into client options.
func (c *Config) ClientOptions(log logrus.FieldLogger) []dia.Option {
	opts := []dia.Option{
		dia.WithTopology(c.Topology),
		dia.WithPlatform(c.Platform),
		dia.WithTimeout(c.Timeout),
	}
	if len(c.Override) > 0 {
		opts = append(opts, dia.WithEndpoints(c.Override...))
	}
	if c.RateLimit.RPS > 0 {
		opts = append(opts, dia.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst))
	}
	if c.Token != "" {
		opts = append(opts, dia.WithAuthToken(c.Token))
	}
	if log != nil {
		opts = append(opts, dia.WithLogger(log))
	}
	return opts
}

// list reads a string list that may also arrive as one comma-separated
// value from the environment or a flag.
func list(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
