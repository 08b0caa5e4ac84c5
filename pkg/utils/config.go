package utils

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"animehub/internal/auth"
	"animehub/internal/logging"
	"animehub/internal/matcher"
	"animehub/internal/providers"
	"animehub/internal/syncer"
	"animehub/pkg/database"
)

const (
	// ConfigPathEnvVar overrides where the YAML file is looked up.
	ConfigPathEnvVar = "ANIMEHUB_CONFIG"
	envPrefix        = "ANIMEHUB_"
)

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Database database.Config `koanf:"database"`
	HTTP     HTTPConfig      `koanf:"http"`
	GRPC     GRPCConfig      `koanf:"grpc"`
	Events   EventsConfig    `koanf:"events"`
	Auth     AuthConfig      `koanf:"auth"`
	AniList  ProviderConfig  `koanf:"anilist"`
	Kitsu    ProviderConfig  `koanf:"kitsu"`
	Jikan    ProviderConfig  `koanf:"jikan"`
	Sync     syncer.Options  `koanf:"sync"`
	Match    matcher.Policy  `koanf:"match"`
	Log      logging.Config  `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// EventsConfig holds the plain TCP progress feed and the UDP run-finished
// notifier. An empty addr disables either.
type EventsConfig struct {
	TCPAddr string `koanf:"tcp_addr"`
	UDPAddr string `koanf:"udp_addr"`
}

type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret" validate:"required,min=8"`
	JWTIssuer   string        `koanf:"jwt_issuer" validate:"required"`
	JWTDuration time.Duration `koanf:"jwt_duration" validate:"gt=0"`
}

func (a AuthConfig) TokenService() auth.TokenService {
	return auth.TokenService{Secret: []byte(a.JWTSecret), Issuer: a.JWTIssuer, Duration: a.JWTDuration}
}

// ProviderConfig tunes one catalog client.
type ProviderConfig struct {
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	RequestDelay    time.Duration `koanf:"request_delay" validate:"min=0"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerOpenFor  time.Duration `koanf:"breaker_open_for" validate:"gt=0"`
}

func (p ProviderConfig) Options() []providers.Option {
	return []providers.Option{
		providers.WithBaseURL(p.BaseURL),
		providers.WithRequestDelay(p.RequestDelay),
		providers.WithHTTPClient(&http.Client{Timeout: p.Timeout}),
		providers.WithBreaker(p.BreakerFailures, p.BreakerOpenFor),
	}
}

func defaultProvider(baseURL string, delay time.Duration) ProviderConfig {
	return ProviderConfig{
		BaseURL:         baseURL,
		RequestDelay:    delay,
		Timeout:         30 * time.Second,
		BreakerFailures: 5,
		BreakerOpenFor:  30 * time.Second,
	}
}

func DefaultConfig() Config {
	lc := logging.DefaultConfig()
	lc.Output = nil
	return Config{
		Database: database.DefaultConfig(),
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		GRPC:     GRPCConfig{Addr: ":9092"},
		Events:   EventsConfig{TCPAddr: ":9090", UDPAddr: ":9091"},
		Auth: AuthConfig{
			// dev default, override with ANIMEHUB_AUTH_JWT_SECRET
			JWTSecret:   "dev-secret-change-me",
			JWTIssuer:   "animehub",
			JWTDuration: 24 * time.Hour,
		},
		AniList: defaultProvider(providers.AniListURL, providers.AniListDefaultDelay),
		Kitsu:   defaultProvider(providers.KitsuURL, providers.KitsuDefaultDelay),
		Jikan:   defaultProvider(providers.JikanURL, providers.JikanDefaultDelay),
		Sync:    syncer.DefaultOptions(),
		Match:   matcher.DefaultPolicy(),
		Log:     lc,
	}
}

// Load layers defaults, the optional YAML file and ANIMEHUB_* environment
// variables, in that order, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps ANIMEHUB_SYNC_MAX_PAGES to sync.max_pages: the first segment
// names the section, the rest is the field.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if s == "config" || s == "db_path" {
		return "" // read directly, not part of the tree
	}
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + field
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Match.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
