// Package config loads process configuration from flags and environment.
// Runtime tuning (scores, thresholds, pacing) lives in the settings file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

type Config struct {
	// Storage
	Backend       string `long:"backend" env:"STORE_BACKEND" default:"bolt" choice:"bolt" choice:"postgres" description:"Persistence backend"`
	DatabaseURL   string `long:"db-url" env:"DB_URL" description:"PostgreSQL connection string (postgres backend)"`
	BoltPath      string `long:"bolt-path" env:"BOLT_PATH" default:"mailcleaner.db" description:"bbolt database file (bolt backend)"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for batch locks; empty keeps locks in the store"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	// HTTP
	Listen string `long:"listen" env:"LISTEN_ADDR" default:":8080" description:"HTTP listen address"`
	APIKey string `long:"api-key" env:"API_SECRET_KEY" description:"Bearer key required by the API; the API refuses requests while it is unset"`

	// Validation
	SettingsFile     string        `long:"settings" env:"SETTINGS_FILE" default:"settings.yaml" description:"Runtime settings YAML file"`
	Offline          bool          `long:"offline" env:"OFFLINE" description:"Skip DNS and SMTP lookups"`
	DNSTimeout       time.Duration `long:"dns-timeout" env:"DNS_TIMEOUT" default:"5s" description:"DNS dial timeout"`
	DNSCacheSize     int           `long:"dns-cache-size" env:"DNS_CACHE_SIZE" default:"10000" description:"Domains kept in the DNS verdict cache; 0 is unbounded"`
	DNSCacheTTL      time.Duration `long:"dns-cache-ttl" env:"DNS_CACHE_TTL" default:"10m" description:"How long a cached DNS verdict is trusted"`
	ProbeConns       int           `long:"probe-conns" env:"PROBE_CONCURRENCY" default:"15" description:"Maximum concurrent SMTP probes"`
	HeloHost         string        `long:"helo-host" env:"HELO_HOST" description:"HELO name used by the SMTP probe"`
	MailFrom         string        `long:"mail-from" env:"PROBE_MAIL_FROM" description:"MAIL FROM address used by the SMTP probe"`
	Proxies          []string      `long:"proxy" env:"PROXY_LIST" env-delim:"," description:"SOCKS5/HTTP proxy URLs for the SMTP probe"`
	ProxyConcurrency int           `long:"proxy-concurrency" env:"PROXY_CONCURRENCY" default:"10" description:"Maximum concurrent proxied connections"`
	ScanConcurrency  int           `long:"scan-concurrency" env:"SCAN_CONCURRENCY" default:"4" description:"Addresses validated at once during a scan"`

	// Notifications
	NotifyAddr     string   `long:"notify-smtp" env:"NOTIFY_SMTP_ADDR" description:"SMTP relay for reports; empty logs them instead"`
	NotifyFrom     string   `long:"notify-from" env:"NOTIFY_FROM" default:"mailcleaner@localhost" description:"Sender of report mails"`
	NotifyTo       []string `long:"notify-to" env:"NOTIFY_TO" env-delim:"," description:"Default report recipients"`
	NotifyUser     string   `long:"notify-user" env:"NOTIFY_USER" description:"SMTP relay username"`
	NotifyPassword string   `long:"notify-password" env:"NOTIFY_PASSWORD" description:"SMTP relay password"`

	// Batches
	Tick         time.Duration `long:"tick" env:"SCHEDULER_TICK" default:"30s" description:"How often the scheduler looks for due jobs"`
	LockTTL      time.Duration `long:"lock-ttl" env:"LOCK_TTL" default:"1h" description:"Lifetime of a scan or revalidation lock"`
	StaleCeiling time.Duration `long:"stale-ceiling" env:"STALE_CEILING" default:"2h" description:"Age at which the health check force-clears a batch lock"`

	// Logging
	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log format"`
}

// ErrHelp is returned when the user asked for usage text.
var ErrHelp = errors.New("config: help requested")

// Load parses args on top of the environment.
func Load(args []string) (*Config, error) {
	var cfg Config
	if _, err := Parse(&cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse fills cfg and returns the arguments go-flags did not consume.
func Parse(cfg *Config, args []string) ([]string, error) {
	parser := flags.NewParser(cfg, flags.Default)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return rest, nil
}

func (c *Config) Validate() error {
	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("db-url is required for the postgres backend")
	}
	if c.Backend == BackendBolt && c.BoltPath == "" {
		return fmt.Errorf("bolt-path is required for the bolt backend")
	}
	if c.LockTTL <= 0 || c.StaleCeiling < c.LockTTL {
		return fmt.Errorf("stale-ceiling (%s) must be at least lock-ttl (%s)", c.StaleCeiling, c.LockTTL)
	}
	if c.NotifyAddr != "" && !strings.Contains(c.NotifyAddr, ":") {
		return fmt.Errorf("notify-smtp must be host:port, got %q", c.NotifyAddr)
	}
	return nil
}

// Logger builds the root logger.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
