// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Environment variables read by Load.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"
	EnvTokenSecret = "MRCAUTH_TOKEN_SECRET"
	EnvMailAPIKey  = "MRCAUTH_MAIL_API_KEY"
)

var envKeys = map[string]string{
	EnvDatabaseURL: "database.url",
	EnvRedisURL:    "redis.url",
	EnvTokenSecret: "token.secret",
	EnvMailAPIKey:  "mail.api_key",
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"storage":      "storage",
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
	"redis-url":    "redis.url",
	"trust-proxy":  "http.trust_proxy",
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path is an optional YAML file.
	Path string
	// Flags, if set, overrides values with any flags the user changed.
	Flags *pflag.FlagSet
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds a Config from defaults, the YAML file, the environment and
// flags, in increasing precedence. The result is not validated.
func Load(opts LoadOptions) (Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	k := koanf.New(".")

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", opts.Path).Wrap(err)
		}
	}

	for env, key := range envKeys {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	// A configured tier table replaces the default one instead of merging
	// element by element.
	if k.Exists("lockout.tiers") {
		cfg.Lockout.Tiers = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", opts.Path).Wrap(err)
	}
	return cfg, nil
}

// RegisterFlags adds the overridable settings to fs. Their defaults are
// informational; only flags the user sets take effect.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("storage", d.Storage, "account storage (postgres or memory)")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("redis-url", "", "Redis URL for rate limits and revocation (default: $REDIS_URL, empty = in memory)")
	fs.Bool("trust-proxy", d.HTTP.TrustProxy, "use X-Forwarded-For / X-Real-IP for client addresses")
}
