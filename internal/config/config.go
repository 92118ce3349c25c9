package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Addr            string `env:"API_ADDR" envDefault:":5000"`
	DatabaseURL     string `env:"DATABASE_URL"`
	StoreDriver     string `env:"STORE_DRIVER"`
	MongoDatabase   string `env:"MONGO_DATABASE" envDefault:"modsplatform"`
	MongoCollection string `env:"MONGO_COLLECTION" envDefault:"requests"`
	RunMigrations   bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	CORSOrigin      string `env:"CORS_ORIGIN" envDefault:"*"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"json"`
	// Static role assignment; ids are trusted as sent by callers
	ManagerIDs []string `env:"MANAGER_IDS" envSeparator:","`
	AdminIDs   []string `env:"ADMIN_IDS" envSeparator:","`
	// Redis - optional, switches the record lock to a shared one
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"10s"`
	// Notifications - every transport is disabled unless configured
	NotifyTimeout      time.Duration     `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	NotifyWebhookURL   string            `env:"NOTIFY_WEBHOOK_URL"`
	NotifyRedisChannel string            `env:"NOTIFY_REDIS_CHANNEL"`
	NotifyEmails       map[string]string `env:"NOTIFY_EMAILS" envSeparator:"," envKeyValSeparator:":"`
	// SMTP - empty by default, email disabled if not configured
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"Mod Requests"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.ManagerIDs = cleanIDs(cfg.ManagerIDs)
	cfg.AdminIDs = cleanIDs(cfg.AdminIDs)
	cfg.NotifyEmails = cleanAddresses(cfg.NotifyEmails)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Driver returns the store backend: STORE_DRIVER when set, otherwise derived
// from the DATABASE_URL scheme. No URL means the in-memory store.
func (c Config) Driver() string {
	if c.StoreDriver != "" {
		return c.StoreDriver
	}
	if c.DatabaseURL == "" {
		return DriverMemory
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return DriverPostgres
	case "mongodb", "mongodb+srv":
		return DriverMongo
	default:
		return ""
	}
}

func (c Config) Validate() error {
	switch c.Driver() {
	case DriverMemory:
	case DriverPostgres, DriverMongo:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store", c.Driver())
		}
	default:
		return fmt.Errorf("cannot determine store driver (STORE_DRIVER=%q, DATABASE_URL scheme unsupported)", c.StoreDriver)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.NotifyRedisChannel != "" && c.RedisURL == "" {
		return fmt.Errorf("NOTIFY_REDIS_CHANNEL requires REDIS_URL")
	}
	return nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func cleanAddresses(book map[string]string) map[string]string {
	out := make(map[string]string, len(book))
	for id, addr := range book {
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if id != "" && addr != "" {
			out[id] = addr
		}
	}
	return out
}
