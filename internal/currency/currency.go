package currency

import (
	"context"
	"log/slog"
	"math"
	"strconv"
)

// PriceOnAsk is what gets stored when a listing carries no price.
const PriceOnAsk = "Price on ask"

// Amount is a price in the site currency, or the price-on-ask marker.
type Amount struct {
	Value float64
	OnAsk bool
}

// String renders whole units without separators, or PriceOnAsk.
func (a Amount) String() string {
	if a.OnAsk {
		return PriceOnAsk
	}
	return strconv.FormatFloat(math.Round(a.Value), 'f', 0, 64)
}

type RateProvider interface {
	ExchangeRates(ctx context.Context, apiKey, base string) (map[string]float64, error)
}

type Converter struct {
	rates RateProvider
	log   *slog.Logger
}

func NewConverter(rates RateProvider, log *slog.Logger) *Converter {
	if log == nil {
		log = slog.Default()
	}
	return &Converter{rates: rates, log: log}
}

// Convert expresses value (in from) in the to currency using a table whose
// base is to. Lookups never fail the caller: any problem returns value as-is.
func (c *Converter) Convert(ctx context.Context, value float64, from, to, apiKey string) Amount {
	if value == 0 {
		return Amount{OnAsk: true}
	}
	if from == "" || to == "" || from == to || apiKey == "" {
		return Amount{Value: value}
	}
	rates, err := c.rates.ExchangeRates(ctx, apiKey, to)
	if err != nil {
		c.log.Warn("Currency data not available, keeping original price", "from", from, "to", to, "error", err)
		return Amount{Value: value}
	}
	rate, ok := rates[from]
	if !ok || rate == 0 {
		c.log.Warn("Currency not available, keeping original price", "currency", from, "base", to)
		return Amount{Value: value}
	}
	// the table is quoted per unit of `to`, so dividing lands in `to`
	return Amount{Value: math.Round(value / rate)}
}
