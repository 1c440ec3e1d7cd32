// Package config loads service configuration from the environment, with an
// optional YAML file overlay, and validates it before the server starts.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Environment variables win over
// the YAML file; defaults fill anything left unset.
type Config struct {
	Env     string `yaml:"env" validate:"required,oneof=DEV STAGING PROD"`
	Port    string `yaml:"port" validate:"required"`
	AppName string `yaml:"app_name" validate:"required"`

	SigningSecret string `yaml:"signing_secret" validate:"required,min=32"`
	Issuer        string `yaml:"issuer" validate:"required"`
	Audience      string `yaml:"audience" validate:"required"`

	OidcIssuerURL    string `yaml:"oidc_issuer_url" validate:"required,url"`
	OidcClientID     string `yaml:"oidc_client_id" validate:"required"`
	OidcClientSecret string `yaml:"oidc_client_secret" validate:"required"`
	OidcRedirectURL  string `yaml:"oidc_redirect_url" validate:"required,url"`
	OidcAudience     string `yaml:"oidc_audience"`

	SessionTimeout  time.Duration `yaml:"session_timeout" validate:"gt=0"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" validate:"gt=0"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" validate:"gt=0"`
	JWKSCacheTTL    time.Duration `yaml:"jwks_cache_ttl" validate:"gt=0"`
	SweepInterval   time.Duration `yaml:"sweep_interval" validate:"gt=0"`

	BlacklistMaxSize int `yaml:"blacklist_max_size" validate:"gt=0"`
}

// Load builds the configuration. A .env file is read if present, then the
// YAML file named by CONFIG_FILE, then individual environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	overlayEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "[config.Load] validation")
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		Env:              "DEV",
		Port:             ":8080",
		AppName:          "Health API",
		SessionTimeout:   10 * time.Minute,
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		JWKSCacheTTL:     24 * time.Hour,
		SweepInterval:    time.Minute,
		BlacklistMaxSize: 10000,
	}
}

func overlayFile(cfg *Config, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "[config.overlayFile] read %s", path)
	}
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return errors.Wrapf(err, "[config.overlayFile] parse %s", path)
	}
	return nil
}

func overlayEnv(cfg *Config) {
	setString(&cfg.Env, "ENV")
	setString(&cfg.Port, "PORT")
	setString(&cfg.AppName, "APP_NAME")
	setString(&cfg.SigningSecret, "JWT_SIGNING_SECRET")
	setString(&cfg.Issuer, "JWT_ISSUER")
	setString(&cfg.Audience, "JWT_AUDIENCE")
	setString(&cfg.OidcIssuerURL, "OIDC_ISSUER_URL")
	setString(&cfg.OidcClientID, "OIDC_CLIENT_ID")
	setString(&cfg.OidcClientSecret, "OIDC_CLIENT_SECRET")
	setString(&cfg.OidcRedirectURL, "OIDC_REDIRECT_URL")
	setString(&cfg.OidcAudience, "OIDC_AUDIENCE")
	setDuration(&cfg.SessionTimeout, "SESSION_TIMEOUT")
	setDuration(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL")
	setDuration(&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL")
	setDuration(&cfg.JWKSCacheTTL, "JWKS_CACHE_TTL")
	setDuration(&cfg.SweepInterval, "SWEEP_INTERVAL")
	setInt(&cfg.BlacklistMaxSize, "BLACKLIST_MAX_SIZE")

	if cfg.Port != "" && cfg.Port[0] != ':' {
		cfg.Port = ":" + cfg.Port
	}
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
