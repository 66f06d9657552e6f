package listing

import (
	"time"

	"github.com/yourorg/listing-sync/internal/currency"
)

// Image describes one remote picture of a listing.
type Image struct {
	ExternalID string
	URL        string
	Rank       int
}

// Record is a normalized listing, built fresh from one remote property per
// pass and consumed straight away by the reconciler.
type Record struct {
	ExternalID string
	User       string
	UpdatedAt  time.Time

	Titles Localized
	Bodies Localized

	AltTitle      string
	Price         currency.Amount
	PricePrefix   string
	PricePostfix  string
	SqFt          string
	VideoURL      string
	LatLng        string
	ExpireListing string

	PropertyType string
	SubType      int
	Rooms        int
	Bedrooms     int
	BedTally     int
	BathTally    int

	City      string
	State     string
	Zip       string
	Country   string
	Community string

	Features []int
	Images   []Image
}
