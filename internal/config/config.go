package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/listing-sync/apimo"
	"github.com/yourorg/listing-sync/exchangerate"
	"github.com/yourorg/listing-sync/internal/env"
)

const configPathEnv = "LISTING_SYNC_CONFIG"

// Settings is resolved once at startup and never mutated afterwards.
type Settings struct {
	Apimo    ApimoSettings    `yaml:"apimo"`
	Currency CurrencySettings `yaml:"currency"`
	Sync     SyncSettings     `yaml:"sync"`
	Cache    CacheSettings    `yaml:"cache"`
	Postgres PostgresSettings `yaml:"postgres"`
	Redis    RedisSettings    `yaml:"redis"`
	Server   ServerSettings   `yaml:"server"`
	Log      LogSettings      `yaml:"log"`
	Images   ImageSettings    `yaml:"images"`
}

// ApimoSettings holds the static credentials forwarded to the listings API.
type ApimoSettings struct {
	BaseURL   string `yaml:"base_url" validate:"required,url"`
	Provider  string `yaml:"provider" validate:"required"`
	Token     string `yaml:"token" validate:"required"`
	Agency    string `yaml:"agency" validate:"required"`
	PageLimit int    `yaml:"page_limit" validate:"gte=1,lte=3000"`
}

type CurrencySettings struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Base is the site currency prices are converted into; empty disables conversion.
	Base   string `yaml:"base" validate:"omitempty,len=3,alpha"`
	APIKey string `yaml:"api_key"`
}

// SyncSettings is the per-pass snapshot handed to the orchestrator and its collaborators.
type SyncSettings struct {
	DataLimit       int           `yaml:"data_limit" validate:"gte=1"`
	SiteLanguage    string        `yaml:"site_language" validate:"required,len=2"`
	BaseCurrency    string        `yaml:"-"`
	CurrencyAPIKey  string        `yaml:"-"`
	FreshnessWindow time.Duration `yaml:"freshness_window" validate:"gte=0"`
	Interval        time.Duration `yaml:"interval" validate:"gt=0"`
	PassTimeout     time.Duration `yaml:"pass_timeout" validate:"gt=0"`
}

type CacheSettings struct {
	ListingTTL time.Duration `yaml:"listing_ttl" validate:"gt=0"`
	RatesTTL   time.Duration `yaml:"rates_ttl" validate:"gt=0"`
}

type PostgresSettings struct {
	DSN string `yaml:"dsn"`
}

type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerSettings struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

type ImageSettings struct {
	DownloadRPS float64 `yaml:"download_rps" validate:"gte=0"`
}

func defaults() Settings {
	return Settings{
		Apimo:    ApimoSettings{BaseURL: apimo.DefaultBaseURL, PageLimit: apimo.MaxPageLimit},
		Currency: CurrencySettings{BaseURL: exchangerate.DefaultBaseURL},
		Sync: SyncSettings{
			DataLimit:       10,
			SiteLanguage:    "en",
			FreshnessWindow: 5 * 24 * time.Hour,
			Interval:        10 * time.Minute,
			PassTimeout:     180 * time.Second,
		},
		Cache:  CacheSettings{ListingTTL: 2 * time.Hour, RatesTTL: 24 * time.Hour},
		Redis:  RedisSettings{Addr: "localhost:6379"},
		Server: ServerSettings{Port: 4002},
		Log:    LogSettings{Level: "info", Format: "text"},
		Images: ImageSettings{DownloadRPS: 4},
	}
}

// Load reads the optional YAML file named by LISTING_SYNC_CONFIG, applies
// environment overrides and validates the result.
func Load() (Settings, error) {
	cfg := defaults()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Info("Loaded config file", "path", path)
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Settings) applyEnv() {
	s.Apimo.BaseURL = env.Get("APIMO_BASE_URL", s.Apimo.BaseURL)
	s.Apimo.Provider = env.Get("APIMO_PROVIDER", s.Apimo.Provider)
	s.Apimo.Token = env.Get("APIMO_TOKEN", s.Apimo.Token)
	s.Apimo.Agency = env.Get("APIMO_AGENCY", s.Apimo.Agency)
	s.Apimo.PageLimit = env.GetInt("APIMO_PAGE_LIMIT", s.Apimo.PageLimit)

	s.Currency.BaseURL = env.Get("EXCHANGE_BASE_URL", s.Currency.BaseURL)
	s.Currency.Base = env.Get("SYNC_BASE_CURRENCY", s.Currency.Base)
	s.Currency.APIKey = env.Get("SYNC_CURRENCY_API_KEY", s.Currency.APIKey)

	s.Sync.DataLimit = env.GetInt("APIMO_DATA_LIMIT", s.Sync.DataLimit)
	s.Sync.SiteLanguage = env.Get("SITE_LANGUAGE", s.Sync.SiteLanguage)
	s.Sync.FreshnessWindow = env.GetDuration("SYNC_FRESHNESS_WINDOW", s.Sync.FreshnessWindow)
	s.Sync.Interval = env.GetDuration("SYNC_INTERVAL", s.Sync.Interval)
	s.Sync.PassTimeout = env.GetDuration("SYNC_PASS_TIMEOUT", s.Sync.PassTimeout)

	s.Cache.ListingTTL = env.GetDuration("LISTING_CACHE_TTL", s.Cache.ListingTTL)
	s.Cache.RatesTTL = env.GetDuration("RATES_CACHE_TTL", s.Cache.RatesTTL)

	s.Postgres.DSN = env.Get("PG_DSN", s.Postgres.DSN)
	s.Redis.Addr = env.Get("REDIS_ADDR", s.Redis.Addr)
	s.Redis.Password = env.Get("REDIS_PASSWORD", s.Redis.Password)
	s.Redis.DB = env.GetInt("REDIS_DB", s.Redis.DB)

	s.Server.Port = env.GetInt("PORT", s.Server.Port)
	s.Log.Level = env.Get("LOG_LEVEL", s.Log.Level)
	s.Log.Format = env.Get("LOG_FORMAT", s.Log.Format)
	s.Images.DownloadRPS = env.GetFloat("IMAGE_DOWNLOAD_RPS", s.Images.DownloadRPS)
}

func (s *Settings) normalize() {
	// locale codes like "fr_FR" or "fr-FR" reduce to their language part
	lang := strings.ToLower(strings.TrimSpace(s.Sync.SiteLanguage))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	s.Sync.SiteLanguage = lang
	s.Currency.Base = strings.ToUpper(strings.TrimSpace(s.Currency.Base))
	s.Log.Format = strings.ToLower(s.Log.Format)
	s.Sync.BaseCurrency = s.Currency.Base
	s.Sync.CurrencyAPIKey = s.Currency.APIKey
}

// Validate checks struct constraints.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PassSettings returns the snapshot used by one synchronization pass.
func (s Settings) PassSettings() SyncSettings {
	out := s.Sync
	out.BaseCurrency = s.Currency.Base
	out.CurrencyAPIKey = s.Currency.APIKey
	return out
}
