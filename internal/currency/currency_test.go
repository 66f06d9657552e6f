package currency

import (
	"context"
	"errors"
	"testing"
)

type fakeRates struct {
	rates map[string]float64
	err   error
	calls int
	base  string
}

func (f *fakeRates) ExchangeRates(_ context.Context, _, base string) (map[string]float64, error) {
	f.calls++
	f.base = base
	return f.rates, f.err
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		from, to  string
		apiKey    string
		rates     map[string]float64
		err       error
		want      Amount
		wantCalls int
	}{
		{name: "zero is price on ask", value: 0, from: "EUR", to: "USD", apiKey: "k", want: Amount{OnAsk: true}},
		{name: "same currency", value: 1000, from: "EUR", to: "EUR", apiKey: "k", want: Amount{Value: 1000}},
		{name: "missing source currency", value: 1000, from: "", to: "EUR", apiKey: "k", want: Amount{Value: 1000}},
		{name: "missing base currency", value: 1000, from: "USD", to: "", apiKey: "k", want: Amount{Value: 1000}},
		{name: "missing api key", value: 1000, from: "USD", to: "EUR", apiKey: "", want: Amount{Value: 1000}},
		{
			name: "divides by rate", value: 1100, from: "USD", to: "EUR", apiKey: "k",
			rates: map[string]float64{"USD": 1.1}, want: Amount{Value: 1000}, wantCalls: 1,
		},
		{
			name: "rounds", value: 1000, from: "CHF", to: "EUR", apiKey: "k",
			rates: map[string]float64{"CHF": 0.96}, want: Amount{Value: 1042}, wantCalls: 1,
		},
		{
			name: "unknown currency passes through", value: 500, from: "XYZ", to: "EUR", apiKey: "k",
			rates: map[string]float64{"USD": 1.1}, want: Amount{Value: 500}, wantCalls: 1,
		},
		{
			name: "fetch failure passes through", value: 500, from: "USD", to: "EUR", apiKey: "k",
			err: errors.New("boom"), want: Amount{Value: 500}, wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp := &fakeRates{rates: tt.rates, err: tt.err}
			c := NewConverter(rp, nil)
			got := c.Convert(context.Background(), tt.value, tt.from, tt.to, tt.apiKey)
			if got != tt.want {
				t.Errorf("Convert() = %+v, want %+v", got, tt.want)
			}
			if rp.calls != tt.wantCalls {
				t.Errorf("rate fetches = %d, want %d", rp.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && rp.base != tt.to {
				t.Errorf("rates requested for base %q, want %q", rp.base, tt.to)
			}
		})
	}
}

func TestAmountString(t *testing.T) {
	if got := (Amount{OnAsk: true}).String(); got != PriceOnAsk {
		t.Errorf("got %q", got)
	}
	if got := (Amount{Value: 250000.6}).String(); got != "250001" {
		t.Errorf("got %q", got)
	}
}
