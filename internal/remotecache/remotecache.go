// Package remotecache keeps the two remote resources the synchronizer depends
// on (the agency listing batch and the exchange-rate table) behind TTL caches.
package remotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/listing-sync/apimo"
	"github.com/yourorg/listing-sync/exchangerate"
)

const (
	ListingsKey = "listingsync:apimo:properties"
	RatesKey    = "listingsync:currency:rates"

	DefaultListingTTL = 2 * time.Hour
	DefaultRatesTTL   = 24 * time.Hour
)

// Cache is a string key/value store with per-key expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, val string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type ListingFetcher interface {
	FetchProperties(ctx context.Context, limit, offset int) ([]apimo.RawProperty, error)
}

type RateFetcher interface {
	Latest(ctx context.Context, apiKey, base string) (exchangerate.Rates, error)
}

type Config struct {
	PageLimit  int
	ListingTTL time.Duration
	RatesTTL   time.Duration
}

type RemoteDataCache struct {
	cache    Cache
	listings ListingFetcher
	rates    RateFetcher
	cfg      Config
	log      *slog.Logger
}

func New(cache Cache, listings ListingFetcher, rates RateFetcher, cfg Config, log *slog.Logger) *RemoteDataCache {
	if cfg.PageLimit <= 0 || cfg.PageLimit > apimo.MaxPageLimit {
		cfg.PageLimit = apimo.MaxPageLimit
	}
	if cfg.ListingTTL <= 0 {
		cfg.ListingTTL = DefaultListingTTL
	}
	if cfg.RatesTTL <= 0 {
		cfg.RatesTTL = DefaultRatesTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &RemoteDataCache{cache: cache, listings: listings, rates: rates, cfg: cfg, log: log}
}

// ListingBatch returns the full agency property list, from cache when fresh.
// Failures are returned as-is and never cached.
func (c *RemoteDataCache) ListingBatch(ctx context.Context) ([]apimo.RawProperty, error) {
	if raw, ok := c.lookup(ctx, ListingsKey); ok {
		props, err := apimo.DecodeProperties([]byte(raw))
		if err == nil {
			c.log.Debug("Listing batch served from cache", "count", len(props))
			return props, nil
		}
		c.log.Warn("Discarding unreadable cached listing batch", "error", err)
	}

	props, err := c.listings.FetchProperties(ctx, c.cfg.PageLimit, 0)
	if err != nil {
		c.log.Error("Error fetching listing batch", "error", err)
		return nil, err
	}

	blob, err := json.Marshal(apimo.Envelope{Properties: &props})
	if err != nil {
		return nil, fmt.Errorf("encode listing batch: %w", err)
	}
	if err := c.cache.Set(ctx, ListingsKey, string(blob), c.cfg.ListingTTL); err != nil {
		c.log.Warn("Failed to cache listing batch", "error", err)
	}
	c.log.Info("Fetched listing batch", "count", len(props))
	return props, nil
}

type cachedRates struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// ExchangeRates returns the conversion table for base, from cache when fresh.
func (c *RemoteDataCache) ExchangeRates(ctx context.Context, apiKey, base string) (map[string]float64, error) {
	if raw, ok := c.lookup(ctx, RatesKey); ok {
		var env cachedRates
		if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Base == base && env.Rates != nil {
			return env.Rates, nil
		}
	}

	rates, err := c.rates.Latest(ctx, apiKey, base)
	if err != nil {
		c.log.Error("Currency data failed", "base", base, "error", err)
		return nil, err
	}

	blob, err := json.Marshal(cachedRates{Base: base, Rates: rates.ConversionRates})
	if err != nil {
		return nil, fmt.Errorf("encode currency data: %w", err)
	}
	if err := c.cache.Set(ctx, RatesKey, string(blob), c.cfg.RatesTTL); err != nil {
		c.log.Warn("Failed to cache currency data", "error", err)
	}
	return rates.ConversionRates, nil
}

// Forget drops the cached listing batch so the next pass refetches it.
func (c *RemoteDataCache) Forget(ctx context.Context) error {
	return c.cache.Del(ctx, ListingsKey)
}

func (c *RemoteDataCache) lookup(ctx context.Context, key string) (string, bool) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("Cache read failed, treating as miss", "key", key, "error", err)
		return "", false
	}
	return raw, ok
}
