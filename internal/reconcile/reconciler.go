// Package reconcile upserts normalized listings and their pictures into the
// content store, keyed by the provider's external id.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/listing-sync/internal/canon"
	"github.com/yourorg/listing-sync/internal/listing"
	"github.com/yourorg/listing-sync/internal/store"
)

// Listing meta keys.
const (
	MetaAltTitle     = "_ct_listing_alt_title"
	MetaPrice        = "_ct_price"
	MetaPricePrefix  = "_ct_price_prefix"
	MetaPricePostfix = "_ct_price_postfix"
	MetaSqFt         = "_ct_sqft"
	MetaVideo        = "_ct_video"
	MetaMLS          = "_ct_mls"
	MetaLatLng       = "_ct_latlng"
	MetaExpire       = "_ct_listing_expire"
	MetaImagesOrder  = "_ct_images_position"
	MetaThumbnail    = "_thumbnail_id"
)

// Taxonomy names.
const (
	TaxBeds         = "beds"
	TaxBaths        = "baths"
	TaxStatus       = "ct_status"
	TaxState        = "state"
	TaxCity         = "city"
	TaxZip          = "zipcode"
	TaxCountry      = "country"
	TaxCommunity    = "community"
	TaxFeatures     = "additional_features"
	TaxPropertyType = "property_type"
)

var (
	// ErrMissingTitle rejects a record whose title resolves to nothing.
	ErrMissingTitle = errors.New("listing has no title")
	// ErrStaleUpdate marks an existing listing left alone because the remote
	// copy is outside the freshness window.
	ErrStaleUpdate = errors.New("remote update outside freshness window")
)

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// ListingStore is the part of the content store the listing reconciler uses.
type ListingStore interface {
	FindListingByTitle(ctx context.Context, title string) (*store.Listing, error)
	FindListingByMeta(ctx context.Context, key, value string) (*store.Listing, error)
	InsertListing(ctx context.Context, in store.ListingInput) (int64, error)
	UpdateListing(ctx context.Context, id int64, in store.ListingInput) error
	GetMeta(ctx context.Context, postID int64, key string) (string, error)
	SetMeta(ctx context.Context, postID int64, key, value string) error
	SetTerms(ctx context.Context, postID int64, taxonomy string, terms []string) error
}

// MediaStore is the part of the content store the image reconciler uses.
type MediaStore interface {
	AttachedMedia(ctx context.Context, parentID int64) ([]store.Media, error)
	FindMediaByBackref(ctx context.Context, ref string) (*store.Media, error)
	SideloadMedia(ctx context.Context, url string, parentID int64) (int64, error)
	UpdateMedia(ctx context.Context, id int64, in store.MediaUpdate) error
	SetMediaParent(ctx context.Context, id, parentID int64) error
	DeleteMedia(ctx context.Context, id int64) error
	SetMeta(ctx context.Context, postID int64, key, value string) error
}

type ContentStore interface {
	ListingStore
	MediaStore
}

type Config struct {
	SiteLanguage    string
	FreshnessWindow time.Duration
}

type Reconciler struct {
	store  ContentStore
	images *ImageReconciler
	cfg    Config
	now    func() time.Time
	log    *slog.Logger
}

func New(st ContentStore, cfg Config, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store:  st,
		images: NewImageReconciler(st, log),
		cfg:    cfg,
		now:    time.Now,
		log:    log,
	}
}

// WithClock replaces the time source used by the freshness check.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile creates or updates the stored listing for rec. A stale or
// untitled record returns OutcomeSkipped with ErrStaleUpdate or
// ErrMissingTitle and leaves the store untouched. Writes are not grouped:
// a failure part way leaves earlier fields written.
func (r *Reconciler) Reconcile(ctx context.Context, rec listing.Record) (Outcome, error) {
	title := canon.StripTags(rec.Titles.Resolve(r.cfg.SiteLanguage))
	if title == "" {
		return OutcomeSkipped, ErrMissingTitle
	}
	in := store.ListingInput{
		Title:   title,
		Content: strings.TrimSpace(rec.Bodies.Resolve(r.cfg.SiteLanguage)),
		Status:  store.StatusPublish,
	}

	existing, err := r.lookup(ctx, rec.ExternalID, title)
	if err != nil {
		return OutcomeSkipped, err
	}

	var (
		id      int64
		outcome Outcome
	)
	if existing == nil {
		if id, err = r.store.InsertListing(ctx, in); err != nil {
			return OutcomeSkipped, fmt.Errorf("insert listing: %w", err)
		}
		outcome = OutcomeCreated
	} else {
		if r.stale(rec.UpdatedAt) {
			return OutcomeSkipped, ErrStaleUpdate
		}
		id = existing.ID
		if err = r.store.UpdateListing(ctx, id, in); err != nil {
			return OutcomeSkipped, fmt.Errorf("update listing %d: %w", id, err)
		}
		outcome = OutcomeUpdated
	}

	var errs []error
	if _, err := r.images.Reconcile(ctx, id, title, rec.Images); err != nil {
		errs = append(errs, err)
	}
	if err := r.writeMeta(ctx, id, rec); err != nil {
		errs = append(errs, err)
	}
	if err := r.writeTerms(ctx, id, rec); err != nil {
		errs = append(errs, err)
	}
	return outcome, errors.Join(errs...)
}

func (r *Reconciler) lookup(ctx context.Context, externalID, title string) (*store.Listing, error) {
	if externalID != "" {
		l, err := r.store.FindListingByMeta(ctx, MetaMLS, externalID)
		if err != nil {
			return nil, fmt.Errorf("find listing by mls %s: %w", externalID, err)
		}
		if l != nil {
			return l, nil
		}
	}
	l, err := r.store.FindListingByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("find listing by title: %w", err)
	}
	if l == nil {
		return nil, nil
	}
	// a same-titled listing owned by another external id is not ours
	owner, err := r.store.GetMeta(ctx, l.ID, MetaMLS)
	if err != nil {
		return nil, fmt.Errorf("read mls of %d: %w", l.ID, err)
	}
	if owner = strings.TrimSpace(owner); owner != "" && owner != externalID {
		return nil, nil
	}
	return l, nil
}

// stale reports whether updatedAt is at or before now minus the window. An
// unknown timestamp counts as stale.
func (r *Reconciler) stale(updatedAt time.Time) bool {
	if updatedAt.IsZero() {
		return true
	}
	return !updatedAt.After(r.now().Add(-r.cfg.FreshnessWindow))
}

func (r *Reconciler) writeMeta(ctx context.Context, id int64, rec listing.Record) error {
	fields := [...]struct{ key, value string }{
		{MetaAltTitle, rec.AltTitle},
		{MetaPrice, rec.Price.String()},
		{MetaPricePrefix, rec.PricePrefix},
		{MetaPricePostfix, rec.PricePostfix},
		{MetaSqFt, rec.SqFt},
		{MetaVideo, rec.VideoURL},
		{MetaMLS, rec.ExternalID},
		{MetaLatLng, rec.LatLng},
		{MetaExpire, rec.ExpireListing},
	}
	for _, f := range fields {
		if err := r.store.SetMeta(ctx, id, f.key, canon.StripTags(f.value)); err != nil {
			return fmt.Errorf("set meta %s on %d: %w", f.key, id, err)
		}
	}
	return nil
}

func (r *Reconciler) writeTerms(ctx context.Context, id int64, rec listing.Record) error {
	beds := rec.Bedrooms
	if beds <= 0 {
		beds = rec.BedTally
	}
	features := []string{count(rec.Rooms)}
	if mapped := FeatureTerms(rec.Features); len(mapped) > 0 {
		features = make([]string, 0, len(mapped))
		for _, t := range mapped {
			features = append(features, strconv.Itoa(t))
		}
	}

	sets := [...]struct {
		taxonomy string
		terms    []string
	}{
		{TaxBeds, []string{count(beds)}},
		{TaxBaths, []string{count(rec.BathTally)}},
		{TaxStatus, nil},
		{TaxState, []string{rec.State}},
		{TaxCity, []string{rec.City}},
		{TaxZip, []string{rec.Zip}},
		{TaxCountry, []string{rec.Country}},
		{TaxCommunity, []string{rec.Community}},
		{TaxFeatures, features},
	}
	for _, s := range sets {
		if err := r.store.SetTerms(ctx, id, s.taxonomy, s.terms); err != nil {
			return fmt.Errorf("set %s terms on %d: %w", s.taxonomy, id, err)
		}
	}

	if term, ok := SubtypeTerm(rec.SubType); ok {
		if err := r.store.SetTerms(ctx, id, TaxPropertyType, []string{strconv.Itoa(term)}); err != nil {
			return fmt.Errorf("set %s terms on %d: %w", TaxPropertyType, id, err)
		}
	}
	return nil
}

// count renders a positive tally; zero clears the taxonomy.
func count(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
