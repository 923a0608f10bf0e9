package config

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StoreMemory = "memory"
	StoreLibsql = "libsql"
)

const (
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// DefaultBaseURL is the API probed when nothing else is configured.
const DefaultBaseURL = "https://pokeapi.co/api/v2"

var endpointName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// EndpointConfig names one API collection and the resources probed in it,
// e.g. pokemon/1.
type EndpointConfig struct {
	Name      string   `mapstructure:"name"`
	Resources []string `mapstructure:"resources"`
}

type TargetConfig struct {
	BaseURL   string           `mapstructure:"base_url"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
}

type ProbeConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Workers    int           `mapstructure:"workers"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type CircuitBreakerConfig struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	WindowSize       int           `mapstructure:"window_size"`
	WindowDuration   time.Duration `mapstructure:"window_duration"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
}

// StoreConfig selects the persistence driver. For libsql either Path (a
// file or ":memory:") or URL (remote, optionally with AuthToken) is used.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Target         TargetConfig         `mapstructure:"target"`
	Probe          ProbeConfig          `mapstructure:"probe"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Store          StoreConfig          `mapstructure:"store"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// Endpoint returns the configured endpoint with the given name.
func (c *Config) Endpoint(name string) (EndpointConfig, bool) {
	for _, ep := range c.Target.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EndpointConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("target.base_url", DefaultBaseURL)
	v.SetDefault("target.endpoints", []map[string]any{
		{"name": "pokemon", "resources": []string{"1"}},
		{"name": "type", "resources": []string{"1"}},
		{"name": "ability", "resources": []string{"1"}},
	})

	v.SetDefault("probe.interval", "5m")
	v.SetDefault("probe.timeout", "10s")
	v.SetDefault("probe.max_retries", 3)
	v.SetDefault("probe.workers", 4)

	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("rate_limit.window", "60s")

	v.SetDefault("circuit_breaker.failure_threshold", 0.5)
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("circuit_breaker.window_size", 10)
	v.SetDefault("circuit_breaker.window_duration", "5m")
	v.SetDefault("circuit_breaker.success_threshold", 3)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.path", "./data/driftwatch.db")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.exporter", ExporterPrometheus)
}

// Load reads configuration from file, if present, then the environment. An
// empty configFile searches ./config and the working directory for
// config.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("target.base_url", "TARGET_BASE_URL", "POKEAPI_BASE_URL"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Target,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TargetConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TargetConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.BaseURL,
						validation.Required,
						validation.By(validateServerURL),
					),
					validation.Field(&tc.Endpoints,
						validation.Required,
						validation.Length(1, 0),
						validation.Each(validation.By(validateEndpointConfig)),
						validation.By(uniqueEndpointNames),
					),
				)
			}),
		),
		validation.Field(&c.Probe,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProbeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProbeConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Interval, validation.By(validateDuration)),
					validation.Field(&pc.Timeout, validation.By(validateDuration)),
					validation.Field(&pc.MaxRetries, validation.Min(0)),
					validation.Field(&pc.Workers, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxRequests, validation.Required, validation.Min(1)),
					validation.Field(&rc.Window, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.FailureThreshold,
						validation.Required,
						validation.Min(0.0).Exclusive(),
						validation.Max(1.0),
					),
					validation.Field(&bc.Timeout, validation.By(validateDuration)),
					validation.Field(&bc.WindowSize, validation.Required, validation.Min(1)),
					validation.Field(&bc.WindowDuration, validation.By(validateDuration)),
					validation.Field(&bc.SuccessThreshold, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Store,
			validation.Required,
			validation.By(validateStoreConfig),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.Exporter,
						validation.Required.When(mc.Enabled),
						validation.In(ExporterPrometheus, ExporterStdout, ExporterNone),
					),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	d, ok := value.(time.Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be a positive duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateEndpointConfig(value interface{}) error {
	ep, ok := value.(EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an EndpointConfig")
	}

	if !endpointName.MatchString(ep.Name) {
		return validation.NewError("validation_invalid_endpoint", "endpoint name must be lowercase letters, digits, '-' or '_'")
	}

	if len(ep.Resources) == 0 {
		return validation.NewError("validation_missing_resources", "endpoint "+ep.Name+" needs at least one resource")
	}

	for _, r := range ep.Resources {
		if strings.TrimSpace(r) == "" || strings.Contains(r, "/") {
			return validation.NewError("validation_invalid_resource", "resource ids cannot be empty or contain '/'")
		}
	}

	return nil
}

func uniqueEndpointNames(value interface{}) error {
	endpoints, ok := value.([]EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of endpoints")
	}

	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		if seen[ep.Name] {
			return validation.NewError("validation_duplicate_endpoint", "duplicate endpoint "+ep.Name)
		}
		seen[ep.Name] = true
	}

	return nil
}

func validateStoreConfig(value interface{}) error {
	sc, ok := value.(StoreConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a StoreConfig")
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Driver,
			validation.Required,
			validation.In(StoreMemory, StoreLibsql),
		),
		validation.Field(&sc.Path,
			validation.When(sc.Driver == StoreLibsql && sc.URL == "",
				validation.Required.Error("path or url is required for libsql"),
			),
		),
		validation.Field(&sc.URL,
			validation.When(sc.URL != "", validation.By(validateStoreURL)),
		),
	)
}

func validateStoreURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return validation.NewError("validation_invalid_url", "must be a URL such as libsql://db.turso.io")
	}

	return nil
}
