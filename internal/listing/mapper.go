package listing

import (
	"context"
	"strings"

	"github.com/yourorg/listing-sync/apimo"
	"github.com/yourorg/listing-sync/internal/canon"
	"github.com/yourorg/listing-sync/internal/currency"
)

// Provider area type codes counted as bathrooms and bedrooms.
var (
	bathAreaTypes = map[int]bool{8: true, 41: true, 13: true, 42: true}
	bedAreaTypes  = map[int]bool{1: true, 53: true, 70: true}
)

type PriceConverter interface {
	Convert(ctx context.Context, value float64, from, to, apiKey string) currency.Amount
}

type MapperConfig struct {
	BaseCurrency   string
	CurrencyAPIKey string
}

type Mapper struct {
	conv PriceConverter
	cfg  MapperConfig
}

func NewMapper(conv PriceConverter, cfg MapperConfig) *Mapper {
	return &Mapper{conv: conv, cfg: cfg}
}

// Map turns a remote property into a Record. Apart from the price conversion
// (which may consult the rate cache) it only depends on its input.
func (m *Mapper) Map(ctx context.Context, p apimo.RawProperty) Record {
	rec := Record{
		ExternalID:   p.ExternalID(),
		User:         p.User.String(),
		UpdatedAt:    p.UpdatedAt.Time,
		AltTitle:     p.Address,
		Price:        m.price(ctx, p),
		SqFt:         canon.Decimal(p.Area.Value.String()),
		LatLng:       latLng(p.Latitude.String(), p.Longitude.String()),
		PropertyType: p.Type.String(),
		SubType:      p.Subtype.Int(),
		Rooms:        p.Rooms.Int(),
		Bedrooms:     p.Bedrooms.Int(),
		City:         p.City.Name,
		Zip:          p.City.Zipcode.String(),
		Country:      p.Country,
	}

	for _, c := range p.Comments {
		rec.Titles.Set(c.Language, c.Title)
		rec.Bodies.Set(c.Language, c.Comment)
	}

	for _, a := range p.Areas {
		code := a.Type.Int()
		switch {
		case bedAreaTypes[code]:
			rec.BedTally += a.Number.Int()
		case bathAreaTypes[code]:
			rec.BathTally += a.Number.Int()
		}
	}

	rec.Images = make([]Image, 0, len(p.Pictures))
	for _, pic := range p.Pictures {
		rec.Images = append(rec.Images, Image{ExternalID: pic.ID.String(), URL: pic.URL, Rank: pic.Rank})
	}

	if len(p.Services) > 0 {
		rec.Features = make([]int, 0, len(p.Services))
		for _, s := range p.Services {
			rec.Features = append(rec.Features, s.Int())
		}
	}
	return rec
}

func (m *Mapper) price(ctx context.Context, p apimo.RawProperty) currency.Amount {
	value := p.Price.Value.Float()
	if m.conv == nil {
		if value == 0 {
			return currency.Amount{OnAsk: true}
		}
		return currency.Amount{Value: value}
	}
	return m.conv.Convert(ctx, value, strings.ToUpper(p.Price.Currency), m.cfg.BaseCurrency, m.cfg.CurrencyAPIKey)
}

func latLng(lat, lng string) string {
	if !truthy(lat) || !truthy(lng) {
		return ""
	}
	return lat + ", " + lng
}

func truthy(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "0" && s != "0.0" && s != "false"
}
