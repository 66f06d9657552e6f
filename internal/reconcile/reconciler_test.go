package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/listing-sync/internal/currency"
	"github.com/yourorg/listing-sync/internal/listing"
	"github.com/yourorg/listing-sync/internal/store"
	"github.com/yourorg/listing-sync/internal/store/storetest"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newReconciler(st *storetest.Memory) *Reconciler {
	return New(st, Config{SiteLanguage: "en", FreshnessWindow: 5 * 24 * time.Hour}, quietLog()).
		WithClock(func() time.Time { return testNow })
}

func sampleRecord() listing.Record {
	rec := listing.Record{
		ExternalID: "1001",
		UpdatedAt:  testNow.Add(-time.Hour),
		AltTitle:   "12 rue <b>Haute</b>",
		Price:      currency.Amount{Value: 250000},
		SqFt:       "84.5",
		LatLng:     "43.7, 7.26",
		SubType:    4,
		Rooms:      5,
		Bedrooms:   3,
		BathTally:  2,
		City:       "Nice",
		Zip:        "06000",
		Country:    "FR",
		Features:   []int{4, 999, 44},
		Images: []listing.Image{
			{ExternalID: "p1", URL: "https://cdn.example.com/a/one.jpg", Rank: 1},
			{ExternalID: "p2", URL: "https://cdn.example.com/a/two.jpg", Rank: 2},
		},
	}
	rec.Titles.Set("fr", "Appartement")
	rec.Titles.Set("en", "Flat with a view")
	rec.Bodies.Set("fr", "Beau")
	rec.Bodies.Set("en", "Lovely")
	return rec
}

func terms(t *testing.T, st *storetest.Memory, id int64, tax string) []string {
	t.Helper()
	out, err := st.Terms(context.Background(), id, tax)
	if err != nil {
		t.Fatalf("Terms(%s): %v", tax, err)
	}
	return out
}

func meta(t *testing.T, st *storetest.Memory, id int64, key string) string {
	t.Helper()
	v, err := st.GetMeta(context.Background(), id, key)
	if err != nil {
		t.Fatalf("GetMeta(%s): %v", key, err)
	}
	return v
}

func onlyListing(t *testing.T, st *storetest.Memory) store.Listing {
	t.Helper()
	ls, _ := st.ListListings(context.Background())
	if len(ls) != 1 {
		t.Fatalf("want 1 listing, got %d", len(ls))
	}
	return ls[0]
}

func TestReconcile_CreatesListing(t *testing.T) {
	st := storetest.New()
	out, err := newReconciler(st).Reconcile(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out != OutcomeCreated {
		t.Fatalf("outcome=%v, want created", out)
	}

	l := onlyListing(t, st)
	if l.Title != "Flat with a view" || l.Content != "Lovely" || l.Status != store.StatusPublish {
		t.Fatalf("listing = %+v", l)
	}

	wantMeta := map[string]string{
		MetaMLS:      "1001",
		MetaPrice:    "250000",
		MetaAltTitle: "12 rue Haute",
		MetaSqFt:     "84.5",
		MetaLatLng:   "43.7, 7.26",
		MetaVideo:    "",
	}
	for k, v := range wantMeta {
		if got := meta(t, st, l.ID, k); got != v {
			t.Errorf("meta %s=%q, want %q", k, got, v)
		}
	}

	wantTerms := map[string][]string{
		TaxBeds:         {"3"},
		TaxBaths:        {"2"},
		TaxCity:         {"Nice"},
		TaxZip:          {"06000"},
		TaxCountry:      {"FR"},
		TaxState:        nil,
		TaxStatus:       nil,
		TaxFeatures:     {"1789", "1824"},
		TaxPropertyType: {"665"},
	}
	for tax, want := range wantTerms {
		got := terms(t, st, l.ID, tax)
		if len(got) == 0 && len(want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("terms %s=%v, want %v", tax, got, want)
		}
	}
}

func TestReconcile_TermFallbacks(t *testing.T) {
	st := storetest.New()
	rec := sampleRecord()
	rec.Bedrooms = 0
	rec.BedTally = 4
	rec.Features = []int{999}
	rec.SubType = 77

	if _, err := newReconciler(st).Reconcile(context.Background(), rec); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	l := onlyListing(t, st)
	if got := terms(t, st, l.ID, TaxBeds); !reflect.DeepEqual(got, []string{"4"}) {
		t.Errorf("beds=%v, want [4]", got)
	}
	if got := terms(t, st, l.ID, TaxFeatures); !reflect.DeepEqual(got, []string{"5"}) {
		t.Errorf("features=%v, want rooms [5]", got)
	}
	if got := terms(t, st, l.ID, TaxPropertyType); len(got) != 0 {
		t.Errorf("property_type=%v, want untouched", got)
	}
}

func TestReconcile_FallsBackToFirstLanguage(t *testing.T) {
	st := storetest.New()
	rec := sampleRecord()
	rec.Titles = listing.Localized{}
	rec.Titles.Set("de", "")
	rec.Titles.Set("fr", "Appartement")
	rec.Titles.Set("it", "Appartamento")

	if _, err := newReconciler(st).Reconcile(context.Background(), rec); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if l := onlyListing(t, st); l.Title != "Appartement" {
		t.Fatalf("title=%q", l.Title)
	}
}

func TestReconcile_MissingTitleLeavesStoreAlone(t *testing.T) {
	st := storetest.New()
	rec := sampleRecord()
	rec.Titles = listing.Localized{}

	out, err := newReconciler(st).Reconcile(context.Background(), rec)
	if !errors.Is(err, ErrMissingTitle) || out != OutcomeSkipped {
		t.Fatalf("got (%v, %v), want skipped/ErrMissingTitle", out, err)
	}
	if st.Writes != 0 || len(st.Downloads) != 0 {
		t.Fatalf("store touched: writes=%d downloads=%d", st.Writes, len(st.Downloads))
	}
}

func TestReconcile_UpdatesFreshListing(t *testing.T) {
	st := storetest.New()
	r := newReconciler(st)
	ctx := context.Background()
	if _, err := r.Reconcile(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}

	rec := sampleRecord()
	rec.Titles.Set("en", "Flat with a sea view")
	rec.Price = currency.Amount{OnAsk: true}
	out, err := r.Reconcile(ctx, rec)
	if err != nil || out != OutcomeUpdated {
		t.Fatalf("got (%v, %v), want updated", out, err)
	}
	l := onlyListing(t, st)
	if l.Title != "Flat with a sea view" {
		t.Fatalf("title=%q", l.Title)
	}
	if got := meta(t, st, l.ID, MetaPrice); got != currency.PriceOnAsk {
		t.Fatalf("price=%q", got)
	}
}

func TestReconcile_StaleGuard(t *testing.T) {
	window := 5 * 24 * time.Hour
	cases := []struct {
		name      string
		updatedAt time.Time
	}{
		{"older than window", testNow.Add(-6 * 24 * time.Hour)},
		{"exactly at boundary", testNow.Add(-window)},
		{"unknown timestamp", time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := storetest.New()
			r := newReconciler(st)
			ctx := context.Background()
			if _, err := r.Reconcile(ctx, sampleRecord()); err != nil {
				t.Fatal(err)
			}
			before := st.Writes

			rec := sampleRecord()
			rec.UpdatedAt = tc.updatedAt
			rec.Titles.Set("en", "Flat with a view")
			rec.Price = currency.Amount{Value: 1}
			out, err := r.Reconcile(ctx, rec)
			if !errors.Is(err, ErrStaleUpdate) || out != OutcomeSkipped {
				t.Fatalf("got (%v, %v), want skipped/ErrStaleUpdate", out, err)
			}
			if st.Writes != before {
				t.Fatalf("stale record wrote %d times", st.Writes-before)
			}
			if got := meta(t, st, onlyListing(t, st).ID, MetaPrice); got != "250000" {
				t.Fatalf("price overwritten: %q", got)
			}
		})
	}
}

func TestReconcile_FindsByExternalIDAfterRetitle(t *testing.T) {
	st := storetest.New()
	r := newReconciler(st)
	ctx := context.Background()
	if _, err := r.Reconcile(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}
	rec := sampleRecord()
	rec.Titles.Set("en", "Completely different")
	if out, err := r.Reconcile(ctx, rec); err != nil || out != OutcomeUpdated {
		t.Fatalf("got (%v, %v), want updated", out, err)
	}
	onlyListing(t, st)
}

func TestReconcile_FindsByFoldedTitle(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()
	if _, err := st.InsertListing(ctx, store.ListingInput{Title: "Flat &amp; Garden"}); err != nil {
		t.Fatal(err)
	}
	rec := sampleRecord()
	rec.Titles.Set("en", "FLAT & garden")
	out, err := newReconciler(st).Reconcile(ctx, rec)
	if err != nil || out != OutcomeUpdated {
		t.Fatalf("got (%v, %v), want updated", out, err)
	}
	l := onlyListing(t, st)
	if got := meta(t, st, l.ID, MetaMLS); got != "1001" {
		t.Fatalf("mls=%q", got)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	st := storetest.New()
	r := newReconciler(st)
	ctx := context.Background()
	if _, err := r.Reconcile(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}
	l := onlyListing(t, st)
	snapshot := func() string {
		var b strings.Builder
		for _, k := range []string{MetaPrice, MetaMLS, MetaImagesOrder, MetaThumbnail, MetaLatLng} {
			b.WriteString(k + "=" + meta(t, st, l.ID, k) + ";")
		}
		for _, tax := range []string{TaxBeds, TaxBaths, TaxFeatures, TaxPropertyType, TaxCity} {
			b.WriteString(tax + "=" + strings.Join(terms(t, st, l.ID, tax), ",") + ";")
		}
		return b.String()
	}
	first := snapshot()
	downloads := len(st.Downloads)

	if _, err := r.Reconcile(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}
	if second := snapshot(); second != first {
		t.Fatalf("second pass changed state:\n%s\n%s", first, second)
	}
	if len(st.Downloads) != downloads {
		t.Fatalf("second pass downloaded %d images", len(st.Downloads)-downloads)
	}
}

func TestLookupTables(t *testing.T) {
	if got := FeatureTerms([]int{44, 46, 4, 0}); !reflect.DeepEqual(got, []int{1824, 1825, 1789}) {
		t.Fatalf("FeatureTerms=%v", got)
	}
	if n := len(featureTerms); n != 35 {
		t.Fatalf("distinct feature codes=%d, want 35", n)
	}
	if term, ok := SubtypeTerm(49); !ok || term != 654 {
		t.Fatalf("SubtypeTerm(49)=(%d,%v)", term, ok)
	}
	if _, ok := SubtypeTerm(1); ok {
		t.Fatal("SubtypeTerm(1) should be unmapped")
	}
}

func TestReconcile_SameTitleDistinctExternalIDs(t *testing.T) {
	st := storetest.New()
	r := newReconciler(st)
	ctx := context.Background()

	record := func(id string) listing.Record {
		rec := sampleRecord()
		rec.ExternalID = id
		rec.Titles = listing.Localized{}
		rec.Titles.Set("en", "Apartment T2")
		rec.Images = nil
		return rec
	}

	for pass := 0; pass < 2; pass++ {
		for _, id := range []string{"A", "B"} {
			out, err := r.Reconcile(ctx, record(id))
			if err != nil {
				t.Fatalf("pass %d %s: %v", pass, id, err)
			}
			want := OutcomeUpdated
			if pass == 0 {
				want = OutcomeCreated
			}
			if out != want {
				t.Fatalf("pass %d %s outcome=%v, want %v", pass, id, out, want)
			}
		}
	}

	ls, _ := st.ListListings(ctx)
	if len(ls) != 2 {
		t.Fatalf("listings=%d, want one per external id", len(ls))
	}
	seen := map[string]bool{}
	for _, l := range ls {
		seen[meta(t, st, l.ID, MetaMLS)] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Fatalf("mls values=%v, want A and B", seen)
	}
}
