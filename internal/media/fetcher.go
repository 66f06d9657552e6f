package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/yourorg/listing-sync/internal/httpx"
)

const maxImageBytes = 25 << 20

// Fetcher downloads listing images, throttled to protect the provider's CDN.
type Fetcher struct {
	http     *retryablehttp.Client
	limiter  *rate.Limiter
	maxBytes int64
}

// NewFetcher allows rps downloads per second; rps <= 0 disables throttling.
func NewFetcher(rps float64) *Fetcher {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Fetcher{http: rc, limiter: lim, maxBytes: maxImageBytes}
}

// Fetch returns the body and content type of url. Non-image responses are rejected.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download status %d", resp.StatusCode)
	}
	data, err := httpx.ReadAllLimit(resp.Body, f.maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, "", fmt.Errorf("unexpected content type %q", ct)
	}
	return data, ct, nil
}
