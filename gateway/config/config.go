package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig configures one named route bucket. Tokens maps
// "METHOD /path" entries to a per-request cost.
type RateLimitConfig struct {
	ID            string         `yaml:"id"`
	RatePerSecond float64        `yaml:"ratePerSecond"`
	Burst         int            `yaml:"burst"`
	DefaultTokens int            `yaml:"defaultTokens"`
	Tokens        map[string]int `yaml:"tokens"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	Metrics       bool   `yaml:"metrics"`
	LogRequests   bool   `yaml:"logRequests"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// AuthConfig governs the admin proxy surface. JWTSecret signs and verifies
// identity tokens; AllowedAdmins is the static UID allow list that is always
// honoured alongside superAdmin claims and the admins collection.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwtSecret"`
	Issuer        string        `yaml:"issuer"`
	AllowedAdmins []string      `yaml:"allowedAdmins"`
	TreasuryUID   string        `yaml:"treasuryUid"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

// TenantConfig governs the tenant payment surface.
type TenantConfig struct {
	IdempotencyDB  string        `yaml:"idempotencyDb"`
	IdempotencyTTL time.Duration `yaml:"idempotencyTtl"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	CORS          CORSConfig          `yaml:"cors"`
	Auth          AuthConfig          `yaml:"auth"`
	Tenant        TenantConfig        `yaml:"tenant"`
}

// ErrJWTSecretMissing is returned when the admin surface would start without
// a signing secret.
var ErrJWTSecretMissing = errors.New("auth.jwtSecret must be configured")

// Load reads the gateway configuration, applying defaults for any field the
// file omits. An empty path yields the defaults alone; the JWT secret may
// then come from the environment before Validate is called.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when no file is supplied.
func Defaults() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "vsd-gateway",
			MetricsPrefix: "vsd",
			Metrics:       true,
			LogRequests:   true,
		},
		Auth: AuthConfig{
			Issuer:    "vsdnetwork",
			ClockSkew: 2 * time.Minute,
		},
		Tenant: TenantConfig{
			IdempotencyDB:  "idempotency.db",
			IdempotencyTTL: 24 * time.Hour,
		},
	}
}

func (cfg *Config) applyDefaults() {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "vsdnetwork"
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "vsd-gateway"
	}
	if cfg.Observability.MetricsPrefix == "" {
		cfg.Observability.MetricsPrefix = "vsd"
	}
	if cfg.Tenant.IdempotencyDB == "" {
		cfg.Tenant.IdempotencyDB = "idempotency.db"
	}
	if cfg.Tenant.IdempotencyTTL <= 0 {
		cfg.Tenant.IdempotencyTTL = 24 * time.Hour
	}
}

// Validate rejects configurations the services cannot run with. The JWT
// secret may be injected from the environment, so callers validate after
// merging environment overrides.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	for i, limit := range cfg.RateLimits {
		if strings.TrimSpace(limit.ID) == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if limit.RatePerSecond <= 0 {
			return fmt.Errorf("rateLimits[%d].ratePerSecond must be positive", i)
		}
		if limit.Burst <= 0 {
			return fmt.Errorf("rateLimits[%d].burst must be positive", i)
		}
		for route, cost := range limit.Tokens {
			if cost <= 0 {
				return fmt.Errorf("rateLimits[%d].tokens[%q] must be positive", i, route)
			}
		}
	}
	trimmed := make([]string, 0, len(cfg.Auth.AllowedAdmins))
	for _, uid := range cfg.Auth.AllowedAdmins {
		uid = strings.TrimSpace(uid)
		if uid != "" {
			trimmed = append(trimmed, uid)
		}
	}
	cfg.Auth.AllowedAdmins = trimmed
	return nil
}

// ValidateSecrets runs the checks that depend on environment-sourced values.
func (cfg *Config) ValidateSecrets() error {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return ErrJWTSecretMissing
	}
	return nil
}

// RateLimitByID looks up a named bucket.
func (cfg Config) RateLimitByID(id string) (*RateLimitConfig, bool) {
	for i := range cfg.RateLimits {
		if cfg.RateLimits[i].ID == id {
			return &cfg.RateLimits[i], true
		}
	}
	return nil, false
}
