// Package config loads checkoutgate configuration from a YAML file and
// environment variables. Environment variables (prefixed CHECKOUTGATE_)
// override file values; defaults fill whatever is still unset.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CHECKOUTGATE_"

// minSecretLen is the minimum server secret length in bytes.
const minSecretLen = 32

type ServerCfg struct {
	Listen            string        `yaml:"listen" env:"LISTEN"`
	Upstream          string        `yaml:"upstream" env:"UPSTREAM"`
	TLSCert           string        `yaml:"tls_cert" env:"TLS_CERT"`
	TLSKey            string        `yaml:"tls_key" env:"TLS_KEY"`
	// TrustedProxies are CIDR ranges whose forwarding headers are honored
	// when resolving client IPs.
	TrustedProxies    []string      `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type SiteCfg struct {
	// URL is the canonical base URL of the deployment (the site identity).
	URL             string   `yaml:"url" env:"URL"`
	GuardedPath     string   `yaml:"guarded_path" env:"GUARDED_PATH"`
	BypassEndpoints []string `yaml:"bypass_endpoints" env:"BYPASS_ENDPOINTS" envSeparator:","`
	AsyncPath       string   `yaml:"async_path" env:"ASYNC_PATH"`
	AssetsPath      string   `yaml:"assets_path" env:"ASSETS_PATH"`
	// AjaxParam is the query parameter marking background requests of the
	// shop. Such requests to the guarded route are not challenged.
	AjaxParam string `yaml:"ajax_param" env:"AJAX_PARAM"`
	// DisableAjaxBypass challenges background requests too.
	DisableAjaxBypass bool          `yaml:"disable_ajax_bypass" env:"DISABLE_AJAX_BYPASS"`
	TokenTTL          time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

type CookieCfg struct {
	Domain string `yaml:"domain" env:"DOMAIN"`
	Path   string `yaml:"path" env:"PATH"`
}

type StorageCfg struct {
	Backend     string `yaml:"backend" env:"BACKEND"` // bbolt | memory | postgres
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

type SecretCfg struct {
	// Value is the server secret, base64url (unpadded) or raw text.
	Value string `yaml:"value" env:"VALUE"`
	// File holds the secret instead of Value.
	File string `yaml:"file" env:"FILE"`
}

type AdminCfg struct {
	// Token enables the admin API when set. Requests must send it as a
	// bearer token.
	Token string `yaml:"token" env:"TOKEN"`
}

// AuditCfg forwards audit events to an external collector when WebhookURL
// is set.
type AuditCfg struct {
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	// WebhookAuthHeader is sent with every delivery, "Name: value".
	WebhookAuthHeader string `yaml:"webhook_auth_header" env:"WEBHOOK_AUTH_HEADER"`
}

type LoggingCfg struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"FORMAT"` // json | text
}

type RateLimitCfg struct {
	// SubmissionsPerSecond caps password submissions across all clients.
	SubmissionsPerSecond float64 `yaml:"submissions_per_second" env:"SUBMISSIONS_PER_SECOND"`
	Burst                int     `yaml:"burst" env:"BURST"`
}

type Config struct {
	Server    ServerCfg    `yaml:"server" envPrefix:"SERVER_"`
	Site      SiteCfg      `yaml:"site" envPrefix:"SITE_"`
	Cookie    CookieCfg    `yaml:"cookie" envPrefix:"COOKIE_"`
	Storage   StorageCfg   `yaml:"storage" envPrefix:"STORAGE_"`
	Secret    SecretCfg    `yaml:"secret" envPrefix:"SECRET_"`
	Admin     AdminCfg     `yaml:"admin" envPrefix:"ADMIN_"`
	Audit     AuditCfg     `yaml:"audit" envPrefix:"AUDIT_"`
	Logging   LoggingCfg   `yaml:"logging" envPrefix:"LOG_"`
	RateLimit RateLimitCfg `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// Load reads the YAML file at path (skipped when path is empty), overlays
// environment variables, applies overrides (command-line flags), fills
// defaults and validates the result.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Site.GuardedPath == "" {
		c.Site.GuardedPath = "/checkout/"
	}
	if c.Site.BypassEndpoints == nil {
		c.Site.BypassEndpoints = []string{"order-received"}
	}
	if c.Site.AsyncPath == "" {
		c.Site.AsyncPath = "/checkoutgate/verify"
	}
	if c.Site.AssetsPath == "" {
		c.Site.AssetsPath = "/checkoutgate/assets"
	}
	if c.Site.AjaxParam == "" {
		c.Site.AjaxParam = "wc-ajax"
	}
	if c.Site.TokenTTL == 0 {
		c.Site.TokenTTL = 24 * time.Hour
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "bbolt"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.SubmissionsPerSecond == 0 {
		c.RateLimit.SubmissionsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Site.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("site.url must be an absolute URL, got %q", c.Site.URL))
	}
	if c.Server.Upstream != "" {
		if u, err := url.Parse(c.Server.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.upstream must be an absolute URL, got %q", c.Server.Upstream))
		}
	}
	if c.Audit.WebhookURL != "" {
		if u, err := url.Parse(c.Audit.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("audit.webhook_url must be an absolute URL, got %q", c.Audit.WebhookURL))
		}
	}
	for name, p := range map[string]string{
		"site.guarded_path": c.Site.GuardedPath,
		"site.async_path":   c.Site.AsyncPath,
		"site.assets_path":  c.Site.AssetsPath,
	} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s must start with /, got %q", name, p))
		}
	}
	switch c.Storage.Backend {
	case "bbolt", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Secret.Value == "" && c.Secret.File == "" {
		errs = append(errs, errors.New("secret.value or secret.file is required"))
	}
	return errors.Join(errs...)
}

// ServerSecret returns the decoded server secret.
func (c *Config) ServerSecret() ([]byte, error) {
	raw := c.Secret.Value
	if c.Secret.File != "" {
		b, err := os.ReadFile(c.Secret.File)
		if err != nil {
			return nil, fmt.Errorf("reading secret file: %w", err)
		}
		raw = string(b)
	}
	raw = strings.TrimSpace(raw)
	secret := []byte(raw)
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil && len(decoded) >= minSecretLen {
		secret = decoded
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("server secret must be at least %d bytes", minSecretLen)
	}
	return secret, nil
}

// LogLevel maps Logging.Level to a slog level.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger builds the process logger described by Logging.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if strings.EqualFold(c.Logging.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
