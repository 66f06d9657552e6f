package apimo

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	return NewClient("prov", "secret", "42", WithBaseURL(srv.URL), WithHTTPClient(rc))
}

func TestFetchProperties_RequestShape(t *testing.T) {
	var gotPath, gotAuth, gotLimit, gotOffset string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotLimit = r.URL.Query().Get("limit")
		gotOffset = r.URL.Query().Get("offset")
		w.Write([]byte(`{"total_items":1,"properties":[{"id":7,"updated_at":"2024-05-01 10:00:00","price":{"value":"1000","currency":"EUR"}}]}`))
	})

	props, err := c.FetchProperties(context.Background(), 3000, 0)
	if err != nil {
		t.Fatalf("FetchProperties() error = %v", err)
	}
	if gotPath != "/agencies/42/properties" {
		t.Errorf("path = %q", gotPath)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("prov:secret"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotLimit != "3000" || gotOffset != "0" {
		t.Errorf("limit/offset = %s/%s", gotLimit, gotOffset)
	}
	if len(props) != 1 {
		t.Fatalf("expected 1 property, got %d", len(props))
	}
	if props[0].ExternalID() != "7" {
		t.Errorf("ExternalID() = %q", props[0].ExternalID())
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !props[0].UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", props[0].UpdatedAt, want)
	}
	if props[0].Price.Value.Float() != 1000 {
		t.Errorf("price = %v", props[0].Price.Value.Float())
	}
}

func TestFetchProperties_ClampsLimit(t *testing.T) {
	var gotLimit string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"properties":[]}`))
	})
	if _, err := c.FetchProperties(context.Background(), 10000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != "3000" {
		t.Errorf("limit = %s, want 3000", gotLimit)
	}
}

func TestFetchProperties_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing field", `{"total_items":0}`},
		{"null field", `{"properties":null}`},
		{"not json", `<html>maintenance</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchProperties(context.Background(), 10, 0)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestFetchProperties_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	})
	_, err := c.FetchProperties(context.Background(), 10, 0)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", fe.Status)
	}
}

func TestStringNumber_Tolerant(t *testing.T) {
	props, err := DecodeProperties([]byte(`{"properties":[{"id":"12","area":{"value":"1,234"},"latitude":43.7,"services":[4,"15"]}]}`))
	if err != nil {
		t.Fatalf("DecodeProperties() error = %v", err)
	}
	p := props[0]
	if p.Area.Value.String() != "1,234" {
		t.Errorf("area raw = %q", p.Area.Value.String())
	}
	if p.Area.Value.Float() != 1.234 {
		t.Errorf("area float = %v", p.Area.Value.Float())
	}
	if p.Latitude.String() != "43.7" {
		t.Errorf("latitude = %q", p.Latitude.String())
	}
	if len(p.Services) != 2 || p.Services[1].Int() != 15 {
		t.Errorf("services = %v", p.Services)
	}
}

func TestParseTimestamp(t *testing.T) {
	if !ParseTimestamp("").IsZero() {
		t.Error("empty input should give zero time")
	}
	if !ParseTimestamp("yesterday").IsZero() {
		t.Error("garbage should give zero time")
	}
	got := ParseTimestamp("2024-01-02T03:04:05+02:00")
	if got.Hour() != 1 {
		t.Errorf("RFC3339 not normalized to UTC: %v", got)
	}
}
