package apimo

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// stringNumber accepts string or number JSON and stores as string
type stringNumber string

func (s *stringNumber) UnmarshalJSON(b []byte) error {
	// empty/null -> empty string
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = stringNumber(str)
		return nil
	}
	// Try as number, keep textual form
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = stringNumber(num.String())
	return nil
}

func (s stringNumber) String() string { return string(s) }

// Float parses the value, tolerating a comma decimal separator. Unparseable
// or empty values yield 0.
func (s stringNumber) Float() float64 {
	v := strings.TrimSpace(strings.ReplaceAll(string(s), ",", "."))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// Int truncates Float.
func (s stringNumber) Int() int { return int(s.Float()) }

// Timestamp accepts the provider's "2006-01-02 15:04:05" layout (UTC) and RFC 3339.
type Timestamp struct{ time.Time }

const timestampLayout = "2006-01-02 15:04:05"

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var raw string
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.Time = ParseTimestamp(raw)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(timestampLayout))
}

// ParseTimestamp returns the zero time for empty or unrecognized input.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.ParseInLocation(timestampLayout, raw, time.UTC); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

// RawProperty is one entry of the agency properties listing, as received.
type RawProperty struct {
	ID        stringNumber `json:"id"`
	User      stringNumber `json:"user,omitempty"`
	UpdatedAt Timestamp    `json:"updated_at"`
	Price     struct {
		Value    stringNumber `json:"value"`
		Currency string       `json:"currency"`
	} `json:"price"`
	Area struct {
		Value stringNumber `json:"value"`
	} `json:"area"`
	Address string `json:"address"`
	City    struct {
		Name    string       `json:"name"`
		Zipcode stringNumber `json:"zipcode"`
	} `json:"city"`
	Country   string         `json:"country"`
	Type      stringNumber   `json:"type"`
	Subtype   stringNumber   `json:"subtype"`
	Rooms     stringNumber   `json:"rooms"`
	Bedrooms  stringNumber   `json:"bedrooms"`
	Latitude  stringNumber   `json:"latitude"`
	Longitude stringNumber   `json:"longitude"`
	Areas     []Area         `json:"areas"`
	Pictures  []Picture      `json:"pictures"`
	Comments  []Comment      `json:"comments"`
	Services  []stringNumber `json:"services"`
}

// Area is a room or bath sub-area; Type is a provider taxonomy code.
type Area struct {
	Type   stringNumber `json:"type"`
	Number stringNumber `json:"number"`
}

type Picture struct {
	ID   stringNumber `json:"id"`
	URL  string       `json:"url"`
	Rank int          `json:"rank"`
}

// Comment carries the per-locale title and description.
type Comment struct {
	Language string `json:"language"`
	Title    string `json:"title"`
	Comment  string `json:"comment"`
}

// ExternalID is the stable provider identifier used as the reconciliation key.
func (p RawProperty) ExternalID() string { return p.ID.String() }

// Envelope is the listing endpoint's response body. A nil Properties means the
// field was absent or null.
type Envelope struct {
	Properties *[]RawProperty `json:"properties"`
}
