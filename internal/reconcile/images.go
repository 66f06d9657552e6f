package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/yourorg/listing-sync/internal/canon"
	"github.com/yourorg/listing-sync/internal/listing"
	"github.com/yourorg/listing-sync/internal/store"
)

// ImageReconciler keeps a listing's attachments equal to its picture list.
type ImageReconciler struct {
	store MediaStore
	log   *slog.Logger
}

func NewImageReconciler(st MediaStore, log *slog.Logger) *ImageReconciler {
	if log == nil {
		log = slog.Default()
	}
	return &ImageReconciler{store: st, log: log}
}

// Reconcile removes attachments no picture matches, sideloads or reattaches
// the rest and records display order. It returns media ids ordered by rank.
// A picture that fails to download is logged and left out; the others are
// still processed.
func (ir *ImageReconciler) Reconcile(ctx context.Context, listingID int64, title string, images []listing.Image) ([]int64, error) {
	attached, err := ir.store.AttachedMedia(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("list media of %d: %w", listingID, err)
	}
	kept := make(map[string]store.Media, len(attached))
	for _, m := range attached {
		if matchesAny(m, images) {
			if _, dup := kept[m.Backref]; !dup {
				kept[m.Backref] = m
			}
			continue
		}
		if err := ir.store.DeleteMedia(ctx, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("delete media %d: %w", m.ID, err)
		}
		ir.log.Debug("Removed orphan image", "listing_id", listingID, "media_id", m.ID, "backref", m.Backref)
	}

	byRank := make(map[int]int64, len(images))
	var errs []error
	for _, img := range images {
		if img.ExternalID == "" || img.URL == "" {
			ir.log.Warn("Skipping picture without id or url", "listing_id", listingID, "rank", img.Rank)
			continue
		}
		id, err := ir.upsert(ctx, listingID, title, img, kept)
		if err != nil {
			ir.log.Warn("Image reconcile failed", "listing_id", listingID, "image_id", img.ExternalID, "url", img.URL, "err", err)
			errs = append(errs, err)
			continue
		}
		byRank[img.Rank] = id
	}

	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	ids := make([]int64, 0, len(ranks))
	parts := make([]string, 0, len(ranks))
	for _, r := range ranks {
		ids = append(ids, byRank[r])
		parts = append(parts, strconv.FormatInt(byRank[r], 10))
	}

	if cover, ok := byRank[1]; ok {
		if err := ir.store.SetMeta(ctx, listingID, MetaThumbnail, strconv.FormatInt(cover, 10)); err != nil {
			errs = append(errs, fmt.Errorf("set cover of %d: %w", listingID, err))
		}
	}
	if err := ir.store.SetMeta(ctx, listingID, MetaImagesOrder, strings.Join(parts, ",")); err != nil {
		errs = append(errs, fmt.Errorf("set image order of %d: %w", listingID, err))
	}
	return ids, errors.Join(errs...)
}

func (ir *ImageReconciler) upsert(ctx context.Context, listingID int64, title string, img listing.Image, kept map[string]store.Media) (int64, error) {
	if m, ok := kept[img.ExternalID]; ok {
		return m.ID, nil
	}
	m, err := ir.store.FindMediaByBackref(ctx, img.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("find media %s: %w", img.ExternalID, err)
	}
	// only a parentless copy of the same file is adopted
	if m != nil && m.ParentID == 0 && sameFile(*m, img) {
		if err := ir.store.SetMediaParent(ctx, m.ID, listingID); err != nil {
			return 0, fmt.Errorf("attach media %d: %w", m.ID, err)
		}
		return m.ID, nil
	}
	id, err := ir.store.SideloadMedia(ctx, img.URL, listingID)
	if err != nil {
		return 0, err
	}
	if err := ir.store.UpdateMedia(ctx, id, store.MediaUpdate{Name: title, Title: title, Backref: img.ExternalID}); err != nil {
		return id, fmt.Errorf("label media %d: %w", id, err)
	}
	return id, nil
}

func sameFile(m store.Media, img listing.Image) bool {
	return canon.FileName(m.GUID) == canon.FileName(img.URL)
}

func matchesAny(m store.Media, images []listing.Image) bool {
	for _, img := range images {
		if m.Backref == img.ExternalID && sameFile(m, img) {
			return true
		}
	}
	return false
}
