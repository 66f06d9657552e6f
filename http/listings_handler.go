package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/yourorg/listing-sync/internal/reconcile"
	"github.com/yourorg/listing-sync/internal/store"
)

// ListingReader is the read side of the content store.
type ListingReader interface {
	ListListings(ctx context.Context) ([]store.Listing, error)
	GetMeta(ctx context.Context, postID int64, key string) (string, error)
	AttachedMedia(ctx context.Context, parentID int64) ([]store.Media, error)
}

type ListingsDeps struct {
	Store ListingReader
}

type listingView struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Price      string    `json:"price"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type photoView struct {
	ID      int64  `json:"id"`
	ImageID string `json:"image_id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Cover   bool   `json:"cover"`
}

func RegisterListings(r chi.Router, d ListingsDeps) {
	r.Get("/v1/listings", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		ls, err := d.Store.ListListings(ctx)
		if err != nil {
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]any{"error": "store_error", "detail": err.Error()})
			return
		}
		out := make([]listingView, 0, len(ls))
		for _, l := range ls {
			mls, _ := d.Store.GetMeta(ctx, l.ID, reconcile.MetaMLS)
			price, _ := d.Store.GetMeta(ctx, l.ID, reconcile.MetaPrice)
			out = append(out, listingView{ID: l.ID, ExternalID: mls, Title: l.Title, Status: l.Status, Price: price, UpdatedAt: l.UpdatedAt})
		}
		render.JSON(w, req, map[string]any{"ok": true, "count": len(out), "listings": out})
	})

	r.Get("/v1/listings/{listingID}/photos", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "listingID"), 10, 64)
		if err != nil || id <= 0 {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, map[string]any{"error": "listing_id_invalid"})
			return
		}
		photos, err := listingPhotos(req.Context(), d.Store, id)
		if err != nil {
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]any{"error": "photos_error", "detail": err.Error()})
			return
		}
		render.JSON(w, req, map[string]any{"ok": true, "count": len(photos), "photos": photos})
	})
}

// listingPhotos returns attachments in display order; media missing from the
// stored order go last.
func listingPhotos(ctx context.Context, st ListingReader, listingID int64) ([]photoView, error) {
	media, err := st.AttachedMedia(ctx, listingID)
	if err != nil {
		return nil, err
	}
	order, err := st.GetMeta(ctx, listingID, reconcile.MetaImagesOrder)
	if err != nil {
		return nil, err
	}
	cover, _ := st.GetMeta(ctx, listingID, reconcile.MetaThumbnail)

	byID := make(map[int64]store.Media, len(media))
	for _, m := range media {
		byID[m.ID] = m
	}
	out := make([]photoView, 0, len(media))
	add := func(m store.Media) {
		out = append(out, photoView{ID: m.ID, ImageID: m.Backref, URL: m.GUID, Title: m.Title, Cover: strconv.FormatInt(m.ID, 10) == cover})
		delete(byID, m.ID)
	}
	for _, part := range strings.Split(order, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		if m, ok := byID[id]; ok {
			add(m)
		}
	}
	for _, m := range media {
		if _, ok := byID[m.ID]; ok {
			add(m)
		}
	}
	return out, nil
}
