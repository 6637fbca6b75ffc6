// Package config loads server configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Resource backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config is the runtime configuration of xwebd.
type Config struct {
	Addr string `env:"XWEB_ADDR" envDefault:":8080" validate:"required"`

	ResourceBackend string `env:"XWEB_RESOURCE_BACKEND" envDefault:"file" validate:"oneof=file memory badger"`
	ResourceDir     string `env:"XWEB_RESOURCE_DIR" envDefault:"."`
	BadgerDir       string `env:"XWEB_BADGER_DIR" envDefault:"./data"`

	MaxWorkers         int           `env:"XWEB_MAX_WORKERS" envDefault:"8" validate:"gte=1"`
	SessionIdleTimeout time.Duration `env:"XWEB_SESSION_IDLE_TIMEOUT" envDefault:"30m" validate:"gt=0"`
	SweepInterval      time.Duration `env:"XWEB_SWEEP_INTERVAL" envDefault:"1m" validate:"gt=0"`
	RequestTimeout     time.Duration `env:"XWEB_REQUEST_TIMEOUT" envDefault:"30s" validate:"gte=0"`

	LogLevel  string `env:"XWEB_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `env:"XWEB_LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`

	SessionCookie string `env:"XWEB_SESSION_COOKIE" envDefault:"xweb-session" validate:"required"`

	MetricsAddr   string `env:"XWEB_METRICS_ADDR" envDefault:":9090"`
	TraceExporter string `env:"XWEB_TRACE_EXPORTER" envDefault:"none" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `env:"XWEB_OTLP_ENDPOINT" envDefault:"localhost:4317" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure  bool   `env:"XWEB_OTLP_INSECURE" envDefault:"false"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the process environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom reads Config from the given environment instead of the process
// environment. Keys that are absent take their defaults.
func LoadFrom(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
}
