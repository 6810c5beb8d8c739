package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/querycache/internal/query"
)

// Service names select the default provider chain and fallback value.
const (
	ServiceLocation = "location"
	ServiceWeather  = "weather"
)

// Exhaustion policies.
const (
	OnExhaustionDegrade   = "degrade"
	OnExhaustionTerminate = "terminate"
)

var validate = validator.New()

// AppConfig is the explicit configuration object handed to every component.
type AppConfig struct {
	Service    string `yaml:"service" validate:"required,oneof=location weather"`
	SocketPath string `yaml:"socket_path" validate:"required"`

	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
	ProviderOrder   []string      `yaml:"provider_order" validate:"min=1,dive,required"`

	// TerminalFallback is the value served by the static provider, as
	// "k=v,k=v".
	TerminalFallback string `yaml:"terminal_fallback"`

	DefaultLatitude  float64 `yaml:"default_latitude" validate:"gte=-90,lte=90"`
	DefaultLongitude float64 `yaml:"default_longitude" validate:"gte=-180,lte=180"`
	DefaultPlace     string  `yaml:"default_place"`

	TrackedQueries    []string `yaml:"tracked_queries" validate:"dive,max=256"`
	AutoTrack         bool     `yaml:"auto_track"`
	MaxTrackedQueries int      `yaml:"max_tracked_queries" validate:"gte=1"`
	OnExhaustion      string   `yaml:"on_exhaustion" validate:"oneof=degrade terminate"`

	HTTPTimeout     time.Duration `yaml:"http_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxRequestBytes int           `yaml:"max_request_bytes" validate:"gte=64,lte=1048576"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace" validate:"gte=0"`

	StatusAddr string `yaml:"status_addr" validate:"omitempty,hostname_port"`

	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
	WeatherAPIKey     string `yaml:"weatherapi_api_key"`
	GeocoderAPIKey    string `yaml:"google_geocoder_api_key"`
	IPAPIURL          string `yaml:"ipapi_url" validate:"required,url"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`
}

// Defaults returns the configuration for service before any file or
// environment overrides.
func Defaults(service string) *AppConfig {
	cfg := &AppConfig{
		Service:           service,
		SocketPath:        DefaultSocketPath(service),
		RefreshInterval:   15 * time.Minute,
		DefaultLatitude:   38.4237,
		DefaultLongitude:  27.1428,
		DefaultPlace:      "Izmir,TR",
		MaxTrackedQueries: 32,
		OnExhaustion:      OnExhaustionDegrade,
		HTTPTimeout:       10 * time.Second,
		RequestTimeout:    2 * time.Second,
		MaxRequestBytes:   4096,
		ShutdownGrace:     5 * time.Second,
		IPAPIURL:          "http://ip-api.com/json",
		LogLevel:          "info",
		LogFormat:         "json",
	}
	switch service {
	case ServiceWeather:
		cfg.ProviderOrder = []string{"openweather", "weatherapi", "openmeteo", query.StaticName}
		cfg.TerminalFallback = "condition=unknown"
	default:
		cfg.ProviderOrder = []string{"ipapi", "geocoder", query.StaticName}
		cfg.TerminalFallback = "lat=38.4237,lon=27.1428"
	}
	return cfg
}

// DefaultSocketPath is the socket used when SOCKET_PATH is unset.
func DefaultSocketPath(service string) string {
	if service == "" {
		service = ServiceLocation
	}
	return fmt.Sprintf("/tmp/querycache-%s.sock", service)
}

// Load reads configuration: optional .env, optional YAML file named by
// QUERYCACHE_CONFIG, then environment variables.
func Load() (*AppConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return load(os.Getenv)
}

func load(getenv func(string) string) (*AppConfig, error) {
	path := getenv("QUERYCACHE_CONFIG")

	var file []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		file = data
	}

	service, err := serviceName(getenv, file)
	if err != nil {
		return nil, err
	}
	cfg := Defaults(service)

	if file != nil {
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	cfg.ProviderOrder = normalizeOrder(cfg.ProviderOrder)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serviceName picks the service from the environment, then the config
// file, so that per-service defaults are chosen before anything else is
// applied.
func serviceName(getenv func(string) string, file []byte) (string, error) {
	if v := strings.TrimSpace(getenv("QUERYCACHE_SERVICE")); v != "" {
		return strings.ToLower(v), nil
	}
	if file != nil {
		var probe struct {
			Service string `yaml:"service"`
		}
		if err := yaml.Unmarshal(file, &probe); err != nil {
			return "", fmt.Errorf("parse config file: %w", err)
		}
		if probe.Service != "" {
			return strings.ToLower(strings.TrimSpace(probe.Service)), nil
		}
	}
	return ServiceLocation, nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key, sep string, dst *[]string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = splitList(v, sep)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SOCKET_PATH", &c.SocketPath)
	dur("REFRESH_INTERVAL", &c.RefreshInterval)
	list("PROVIDER_ORDER", ",", &c.ProviderOrder)
	str("TERMINAL_FALLBACK", &c.TerminalFallback)
	float("DEFAULT_LATITUDE", &c.DefaultLatitude)
	float("DEFAULT_LONGITUDE", &c.DefaultLongitude)
	str("DEFAULT_PLACE", &c.DefaultPlace)
	// Keys may contain commas ("lat,lon", "city,country").
	list("TRACKED_QUERIES", ";", &c.TrackedQueries)
	boolean("AUTO_TRACK", &c.AutoTrack)
	integer("MAX_TRACKED_QUERIES", &c.MaxTrackedQueries)
	str("ON_EXHAUSTION", &c.OnExhaustion)
	dur("HTTP_TIMEOUT", &c.HTTPTimeout)
	dur("REQUEST_TIMEOUT", &c.RequestTimeout)
	integer("MAX_REQUEST_BYTES", &c.MaxRequestBytes)
	dur("SHUTDOWN_GRACE", &c.ShutdownGrace)
	str("STATUS_ADDR", &c.StatusAddr)
	str("OPENWEATHER_API_KEY", &c.OpenWeatherAPIKey)
	str("WEATHERAPI_API_KEY", &c.WeatherAPIKey)
	str("GOOGLE_GEOCODER_API_KEY", &c.GeocoderAPIKey)
	str("IPAPI_URL", &c.IPAPIURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	c.OnExhaustion = strings.ToLower(c.OnExhaustion)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)

	return errors.Join(errs...)
}

// Validate checks struct constraints plus the rules tags cannot express.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i, name := range c.ProviderOrder {
		if name == query.StaticName && i != len(c.ProviderOrder)-1 {
			return fmt.Errorf("invalid config: provider %q must be last in PROVIDER_ORDER", query.StaticName)
		}
	}
	fallback, err := c.Fallback()
	if err != nil {
		return fmt.Errorf("invalid config: TERMINAL_FALLBACK: %w", err)
	}
	if len(fallback) == 0 {
		return errors.New("invalid config: TERMINAL_FALLBACK must name at least one field")
	}
	return nil
}

// Fallback parses TerminalFallback.
func (c *AppConfig) Fallback() (query.Result, error) {
	return query.ParseFallback(c.TerminalFallback)
}

// Terminate reports whether resolution exhaustion should stop the daemon.
func (c *AppConfig) Terminate() bool {
	return c.OnExhaustion == OnExhaustionTerminate
}

// normalizeOrder lower-cases names, drops blanks and appends the static
// provider when it is missing.
func normalizeOrder(order []string) []string {
	out := make([]string, 0, len(order)+1)
	hasStatic := false
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == query.StaticName {
			hasStatic = true
		}
		out = append(out, name)
	}
	if !hasStatic {
		out = append(out, query.StaticName)
	}
	return out
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
