// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package config loads and validates the mrcauth server configuration.
package config

import (
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/logging"
	"github.com/mrcsystems/mrcauth/internal/ratelimit"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is the full server configuration.
type Config struct {
	// Storage selects the account store: postgres or memory.
	Storage   string          `koanf:"storage" json:"storage" jsonschema:"enum=postgres,enum=memory"`
	HTTP      HTTPConfig      `koanf:"http" json:"http"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics"`
	Log       LogConfig       `koanf:"log" json:"log"`
	Database  DatabaseConfig  `koanf:"database" json:"database"`
	Redis     RedisConfig     `koanf:"redis" json:"redis"`
	Token     TokenConfig     `koanf:"token" json:"token"`
	Hasher    HasherConfig    `koanf:"hasher" json:"hasher"`
	Lockout   LockoutConfig   `koanf:"lockout" json:"lockout"`
	Reset     ResetConfig     `koanf:"reset" json:"reset"`
	RateLimit RateLimitConfig `koanf:"ratelimit" json:"ratelimit"`
	Mail      MailConfig      `koanf:"mail" json:"mail"`
	Cookies   CookieConfig    `koanf:"cookies" json:"cookies"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" json:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout" jsonschema:"type=string"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout" jsonschema:"type=string"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" jsonschema:"type=string"`
	// TrustProxy honours X-Forwarded-For and X-Real-IP for the client address.
	TrustProxy bool `koanf:"trust_proxy" json:"trust_proxy"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url" json:"url"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns" jsonschema:"minimum=0"`
	ConnectAttempts uint64        `koanf:"connect_attempts" json:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff" json:"connect_backoff" jsonschema:"type=string"`
	AutoMigrate     bool          `koanf:"auto_migrate" json:"auto_migrate"`
}

// RedisConfig configures the shared rate-limit and revocation store. An
// empty URL keeps both in process memory.
type RedisConfig struct {
	URL    string `koanf:"url" json:"url"`
	Prefix string `koanf:"prefix" json:"prefix"`
}

// TokenConfig configures session tokens.
type TokenConfig struct {
	Secret     string        `koanf:"secret" json:"secret"`
	Issuer     string        `koanf:"issuer" json:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl" json:"access_ttl" jsonschema:"type=string"`
	RefreshTTL time.Duration `koanf:"refresh_ttl" json:"refresh_ttl" jsonschema:"type=string"`
	Leeway     time.Duration `koanf:"leeway" json:"leeway" jsonschema:"type=string"`
}

// HasherConfig holds the argon2id cost.
type HasherConfig struct {
	Time    uint32 `koanf:"time" json:"time" jsonschema:"minimum=1,maximum=64"`
	Memory  uint32 `koanf:"memory" json:"memory" jsonschema:"minimum=8,maximum=4194304"`
	Threads uint8  `koanf:"threads" json:"threads" jsonschema:"minimum=1"`
}

// LockoutTier is one escalation step.
type LockoutTier struct {
	Threshold int           `koanf:"threshold" json:"threshold" jsonschema:"minimum=1"`
	Duration  time.Duration `koanf:"duration" json:"duration" jsonschema:"type=string"`
}

// LockoutConfig holds the escalation table.
type LockoutConfig struct {
	Tiers []LockoutTier `koanf:"tiers" json:"tiers"`
}

// ResetConfig configures password reset tokens.
type ResetConfig struct {
	TTL           time.Duration `koanf:"ttl" json:"ttl" jsonschema:"type=string"`
	Retention     time.Duration `koanf:"retention" json:"retention" jsonschema:"type=string"`
	PruneInterval time.Duration `koanf:"prune_interval" json:"prune_interval" jsonschema:"type=string"`
}

// RateRule allows Limit requests per Window.
type RateRule struct {
	Limit  int           `koanf:"limit" json:"limit" jsonschema:"minimum=1"`
	Window time.Duration `koanf:"window" json:"window" jsonschema:"type=string"`
}

// RateLimitConfig holds one rule per endpoint class.
type RateLimitConfig struct {
	Login         RateRule `koanf:"login" json:"login"`
	Refresh       RateRule `koanf:"refresh" json:"refresh"`
	ResetRequest  RateRule `koanf:"password_reset_request" json:"password_reset_request"`
	ResetComplete RateRule `koanf:"password_reset_complete" json:"password_reset_complete"`
}

// MailConfig configures reset email delivery. An empty APIURL logs
// messages instead of sending them.
type MailConfig struct {
	APIURL        string        `koanf:"api_url" json:"api_url"`
	APIKey        string        `koanf:"api_key" json:"api_key"`
	FromEmail     string        `koanf:"from_email" json:"from_email"`
	FromName      string        `koanf:"from_name" json:"from_name"`
	Timeout       time.Duration `koanf:"timeout" json:"timeout" jsonschema:"type=string"`
	QueueSize     int           `koanf:"queue_size" json:"queue_size" jsonschema:"minimum=1"`
	ResetLinkBase string        `koanf:"reset_link_base" json:"reset_link_base"`
}

// CookieConfig configures the token cookies.
type CookieConfig struct {
	Secure bool   `koanf:"secure" json:"secure"`
	Domain string `koanf:"domain" json:"domain"`
	Path   string `koanf:"path" json:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	hasher := auth.DefaultHasherParams()
	rules := ratelimit.DefaultRules()
	rule := func(c ratelimit.Class) RateRule {
		return RateRule{Limit: rules[c].Limit, Window: rules[c].Window}
	}

	var tiers []LockoutTier
	for _, t := range auth.DefaultLockoutPolicy().Tiers() {
		tiers = append(tiers, LockoutTier{Threshold: t.Threshold, Duration: t.Duration})
	}

	return Config{
		Storage: StoragePostgres,
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Redis: RedisConfig{Prefix: "mrcauth:"},
		Token: TokenConfig{
			Issuer:     "mrcauth",
			AccessTTL:  8 * time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Hasher:  HasherConfig{Time: hasher.Time, Memory: hasher.Memory, Threads: hasher.Threads},
		Lockout: LockoutConfig{Tiers: tiers},
		Reset: ResetConfig{
			TTL:           auth.DefaultResetTTL,
			Retention:     auth.DefaultResetKeep,
			PruneInterval: auth.DefaultJanitorInterval,
		},
		RateLimit: RateLimitConfig{
			Login:         rule(ratelimit.ClassLogin),
			Refresh:       rule(ratelimit.ClassRefresh),
			ResetRequest:  rule(ratelimit.ClassResetRequest),
			ResetComplete: rule(ratelimit.ClassResetComplete),
		},
		Mail: MailConfig{
			FromEmail:     "noreply@mrc.local",
			FromName:      "MRC System",
			Timeout:       10 * time.Second,
			QueueSize:     100,
			ResetLinkBase: "http://localhost:8080/reset-password",
		},
		Cookies: CookieConfig{Path: "/"},
	}
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch c.Storage {
	case StoragePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database.url (or DATABASE_URL) is required for postgres storage")
		}
	case StorageMemory:
	default:
		return invalid("storage", "storage must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if err := c.TokenConfig().Validate(); err != nil {
		return invalid("token", "token: %v", err)
	}
	if err := c.HasherParams().Validate(); err != nil {
		return invalid("hasher", "hasher: %v", err)
	}
	if _, err := c.LockoutPolicy(); err != nil {
		return invalid("lockout.tiers", "lockout.tiers: %v", err)
	}
	if c.Reset.TTL <= 0 {
		return invalid("reset.ttl", "reset.ttl must be positive")
	}
	for class, rule := range c.RateLimitRules() {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return invalid("ratelimit."+string(class), "ratelimit.%s needs a positive limit and window", class)
		}
	}
	if c.Mail.QueueSize <= 0 {
		return invalid("mail.queue_size", "mail.queue_size must be positive")
	}
	if _, err := url.Parse(c.Mail.ResetLinkBase); err != nil || c.Mail.ResetLinkBase == "" {
		return invalid("mail.reset_link_base", "mail.reset_link_base must be a URL")
	}
	if c.Mail.APIURL != "" && c.Mail.FromEmail == "" {
		return invalid("mail.from_email", "mail.from_email is required when mail.api_url is set")
	}
	return nil
}

// TokenConfig converts to the issuer configuration.
func (c Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     []byte(c.Token.Secret),
		Issuer:     c.Token.Issuer,
		AccessTTL:  c.Token.AccessTTL,
		RefreshTTL: c.Token.RefreshTTL,
		Leeway:     c.Token.Leeway,
	}
}

// HasherParams converts to argon2id parameters.
func (c Config) HasherParams() auth.HasherParams {
	return auth.HasherParams{Time: c.Hasher.Time, Memory: c.Hasher.Memory, Threads: c.Hasher.Threads}
}

// LockoutPolicy builds and validates the escalation table.
func (c Config) LockoutPolicy() (auth.LockoutPolicy, error) {
	tiers := make([]auth.LockoutTier, 0, len(c.Lockout.Tiers))
	for _, t := range c.Lockout.Tiers {
		tiers = append(tiers, auth.LockoutTier{Threshold: t.Threshold, Duration: t.Duration})
	}
	return auth.NewLockoutPolicy(tiers)
}

// RateLimitRules converts to per-class limiter rules.
func (c Config) RateLimitRules() map[ratelimit.Class]ratelimit.Rule {
	conv := func(r RateRule) ratelimit.Rule { return ratelimit.Rule{Limit: r.Limit, Window: r.Window} }
	return map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassLogin:         conv(c.RateLimit.Login),
		ratelimit.ClassRefresh:       conv(c.RateLimit.Refresh),
		ratelimit.ClassResetRequest:  conv(c.RateLimit.ResetRequest),
		ratelimit.ClassResetComplete: conv(c.RateLimit.ResetComplete),
	}
}
