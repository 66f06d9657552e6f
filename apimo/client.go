package apimo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/listing-sync/internal/httpx"
)

const (
	DefaultBaseURL = "https://api.apimo.pro"
	// MaxPageLimit is the largest batch the agency endpoint serves in one call.
	MaxPageLimit = 3000

	maxBodyBytes = 64 << 20
)

type Client struct {
	provider string
	token    string
	agency   string
	baseURL  string
	http     *retryablehttp.Client
}

type Option func(*Client)

// WithBaseURL points the client at another host (tests, staging).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the retrying transport.
func WithHTTPClient(rc *retryablehttp.Client) Option {
	return func(c *Client) { c.http = rc }
}

func NewClient(provider, token, agency string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 60 * time.Second
	rc.Logger = nil

	c := &Client{
		provider: provider,
		token:    token,
		agency:   agency,
		baseURL:  DefaultBaseURL,
		http:     rc,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) authorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.provider+":"+c.token))
}

// FetchProperties lists the agency's properties.
// Docs: GET /agencies/{agency}/properties
// Params: limit (<= 3000), offset
func (c *Client) FetchProperties(ctx context.Context, limit, offset int) ([]RawProperty, error) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	u := fmt.Sprintf("%s/agencies/%s/properties?%s", c.baseURL, url.PathEscape(c.agency), q.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorization())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{URL: u, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	raw, err := httpx.ReadAllLimit(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, &FetchError{URL: u, Status: resp.StatusCode, Err: err}
	}
	return DecodeProperties(raw)
}

// DecodeProperties parses a listing envelope and insists on a "properties" field.
func DecodeProperties(raw []byte) ([]RawProperty, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Properties == nil {
		return nil, fmt.Errorf("%w: missing properties field", ErrMalformedResponse)
	}
	return *env.Properties, nil
}
