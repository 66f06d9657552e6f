package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/listing-sync/apimo"
)

const DefaultBaseURL = "https://v6.exchangerate-api.com/v6"

// FetchError is shared with the listings client so callers classify both the same way.
type FetchError = apimo.FetchError

// Rates is a rate table relative to Base: one Base unit buys ConversionRates[CUR] of CUR.
type Rates struct {
	Base            string             `json:"base_code"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: rc}
}

// Latest fetches the current table for base.
// Docs: GET /{apiKey}/latest/{base}
func (c *Client) Latest(ctx context.Context, apiKey, base string) (Rates, error) {
	u := fmt.Sprintf("%s/%s/latest/%s", c.baseURL, url.PathEscape(apiKey), url.PathEscape(base))
	// never surface the key in errors/logs
	redacted := fmt.Sprintf("%s/***/latest/%s", c.baseURL, base)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Rates{}, &FetchError{URL: redacted, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Rates{}, &FetchError{URL: redacted, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return Rates{}, &FetchError{URL: redacted, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out Rates
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Rates{}, &FetchError{URL: redacted, Status: resp.StatusCode, Err: fmt.Errorf("%w: %v", apimo.ErrMalformedResponse, err)}
	}
	if out.ConversionRates == nil {
		return Rates{}, &FetchError{URL: redacted, Status: resp.StatusCode, Err: fmt.Errorf("%w: missing conversion_rates", apimo.ErrMalformedResponse)}
	}
	if out.Base == "" {
		out.Base = base
	}
	return out, nil
}
