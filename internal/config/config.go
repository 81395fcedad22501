// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres|sqlite
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ZPayConfig struct {
	APIURL      string        `yaml:"api_url"`
	MerchantID  string        `yaml:"merchant_id"`
	MerchantKey string        `yaml:"merchant_key"`
	NotifyURL   string        `yaml:"notify_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	Provider string     `yaml:"provider"` // zpay|noop
	ZPay     ZPayConfig `yaml:"zpay"`
}

type OrdersConfig struct {
	PendingWindow    time.Duration `yaml:"pending_window"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepStaleAfter  time.Duration `yaml:"sweep_stale_after"`
	CreateRateLimit  int           `yaml:"create_rate_limit"`
	CreateRateWindow time.Duration `yaml:"create_rate_window"`
}

type SettlementConfig struct {
	SuccessStatus   string        `yaml:"success_status"`
	LegacyNameMatch bool          `yaml:"legacy_name_match"`
	ReplayTTL       time.Duration `yaml:"replay_ttl"`
}

type ProfileConfig struct {
	FreeModel1Usages int `yaml:"free_model1_usages"`
	FreeModel2Usages int `yaml:"free_model2_usages"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type ProductConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Price          string `yaml:"price"` // decimal string, e.g. "18.90"
	Credits        int64  `yaml:"credits"`
	MembershipType string `yaml:"membership_type"` // advanced|professional, empty for none
	MembershipDays int    `yaml:"membership_days"`
}

type CatalogConfig struct {
	Products []ProductConfig `yaml:"products"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Payment    PaymentConfig    `yaml:"payment"`
	Orders     OrdersConfig     `yaml:"orders"`
	Settlement SettlementConfig `yaml:"settlement"`
	Profile    ProfileConfig    `yaml:"profile"`
	Auth       AuthConfig       `yaml:"auth"`
	Catalog    CatalogConfig    `yaml:"catalog"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, overlays secrets from the environment
// (an optional .env next to the process is loaded first) and applies defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML without defaults or environment overrides.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Payment.ZPay.MerchantID, "ZPAY_MERCHANT_ID")
	override(&cfg.Payment.ZPay.MerchantKey, "ZPAY_MERCHANT_KEY")
	override(&cfg.Payment.ZPay.NotifyURL, "ZPAY_NOTIFY_URL")
	override(&cfg.Auth.JWTSecret, "JWT_SECRET")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "zpay"
	}
	if cfg.Payment.ZPay.APIURL == "" {
		cfg.Payment.ZPay.APIURL = "https://zpayz.cn/mapi.php"
	}
	if cfg.Payment.ZPay.Timeout <= 0 {
		cfg.Payment.ZPay.Timeout = 30 * time.Second
	}
	if cfg.Orders.PendingWindow <= 0 {
		cfg.Orders.PendingWindow = 5 * time.Minute
	}
	if cfg.Orders.SweepInterval <= 0 {
		cfg.Orders.SweepInterval = 6 * time.Hour
	}
	if cfg.Orders.SweepStaleAfter <= 0 {
		cfg.Orders.SweepStaleAfter = 6 * time.Hour
	}
	if cfg.Orders.CreateRateLimit <= 0 {
		cfg.Orders.CreateRateLimit = 5
	}
	if cfg.Orders.CreateRateWindow <= 0 {
		cfg.Orders.CreateRateWindow = time.Minute
	}
	if cfg.Settlement.SuccessStatus == "" {
		cfg.Settlement.SuccessStatus = "TRADE_SUCCESS"
	}
	if cfg.Settlement.ReplayTTL <= 0 {
		cfg.Settlement.ReplayTTL = 24 * time.Hour
	}
	if cfg.Profile.FreeModel1Usages == 0 && cfg.Profile.FreeModel2Usages == 0 {
		cfg.Profile.FreeModel1Usages = 5
		cfg.Profile.FreeModel2Usages = 3
	}
}

// Validate checks the fields the process cannot start without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Payment.Provider == "zpay" {
		if c.Payment.ZPay.MerchantID == "" || c.Payment.ZPay.MerchantKey == "" {
			return errors.New("payment.zpay.merchant_id and merchant_key are required")
		}
		if c.Payment.ZPay.NotifyURL == "" {
			return errors.New("payment.zpay.notify_url is required")
		}
	}
	if c.Orders.SweepStaleAfter < c.Orders.PendingWindow {
		return errors.New("orders.sweep_stale_after must not be shorter than orders.pending_window")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
