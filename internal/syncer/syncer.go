// Package syncer drives synchronization passes: it slices a window out of the
// cached provider batch, reconciles it, prunes listings the provider no
// longer returns and advances the persisted cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/listing-sync/apimo"
	"github.com/yourorg/listing-sync/internal/events"
	"github.com/yourorg/listing-sync/internal/listing"
	"github.com/yourorg/listing-sync/internal/reconcile"
	"github.com/yourorg/listing-sync/internal/store"
)

// CursorOption names the option row holding the window offset.
const CursorOption = "apimo_data_offset"

type ListingSource interface {
	ListingBatch(ctx context.Context) ([]apimo.RawProperty, error)
	Forget(ctx context.Context) error
}

type Mapper interface {
	Map(ctx context.Context, p apimo.RawProperty) listing.Record
}

type Reconciler interface {
	Reconcile(ctx context.Context, rec listing.Record) (reconcile.Outcome, error)
}

type Store interface {
	ListListings(ctx context.Context) ([]store.Listing, error)
	GetMeta(ctx context.Context, postID int64, key string) (string, error)
	DeleteListing(ctx context.Context, id int64) error
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
	DeleteOption(ctx context.Context, name string) error
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Report summarizes one pass.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Offset     int       `json:"offset"`
	Window     int       `json:"window"`
	NextOffset int       `json:"next_offset"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Stale      int       `json:"stale"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Deleted    int       `json:"deleted"`
}

type Deps struct {
	Source     ListingSource
	Mapper     Mapper
	Reconciler Reconciler
	Store      Store
	// Events is optional.
	Events events.Publisher
}

type Orchestrator struct {
	Deps
	limit int
	now   func() time.Time
	log   *slog.Logger
}

func New(deps Deps, dataLimit int, log *slog.Logger) *Orchestrator {
	if dataLimit <= 0 {
		dataLimit = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{Deps: deps, limit: dataLimit, now: time.Now, log: log}
}

// Synchronize runs one pass. A failed fetch ends the pass before any store
// access. Single listing failures are counted and logged; they never stop
// the pass. When ctx ends mid-window the cursor stays where it was so the
// next pass repeats the window.
func (o *Orchestrator) Synchronize(ctx context.Context) (rep Report, err error) {
	rep.StartedAt = o.now()
	defer func() { rep.FinishedAt = o.now() }()

	props, err := o.Source.ListingBatch(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch listings: %w", err)
	}
	rep.Total = len(props)

	offset, err := o.Cursor(ctx)
	if err != nil {
		return rep, err
	}
	rep.Offset = offset

	window := slice(props, offset, o.limit)
	rep.Window = len(window)
	o.log.Info("Sync pass started", "total", rep.Total, "offset", offset, "window", len(window))

	for _, p := range window {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		o.reconcileOne(ctx, p, &rep)
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	var errs []error
	deleted, err := o.deleteOrphans(ctx, props)
	rep.Deleted = deleted
	if err != nil {
		errs = append(errs, err)
	}

	rep.NextOffset = offset + o.limit
	if rep.NextOffset >= rep.Total {
		rep.NextOffset = 0
	}
	if err := o.Store.SetOption(ctx, CursorOption, strconv.Itoa(rep.NextOffset)); err != nil {
		errs = append(errs, fmt.Errorf("save cursor: %w", err))
	}

	o.log.Info("Sync pass finished",
		"created", rep.Created, "updated", rep.Updated, "stale", rep.Stale,
		"skipped", rep.Skipped, "failed", rep.Failed, "deleted", rep.Deleted,
		"next_offset", rep.NextOffset)
	return rep, errors.Join(errs...)
}

func (o *Orchestrator) reconcileOne(ctx context.Context, p apimo.RawProperty, rep *Report) {
	rec := o.Mapper.Map(ctx, p)
	outcome, err := o.Reconciler.Reconcile(ctx, rec)
	switch {
	case errors.Is(err, reconcile.ErrStaleUpdate):
		rep.Stale++
		o.log.Debug("Listing outside freshness window", "external_id", rec.ExternalID, "updated_at", rec.UpdatedAt)
		return
	case errors.Is(err, reconcile.ErrMissingTitle):
		rep.Skipped++
		o.log.Warn("Listing skipped", "external_id", rec.ExternalID, "err", err)
		return
	case err != nil && outcome == reconcile.OutcomeSkipped:
		rep.Failed++
		o.log.Error("Listing reconcile failed", "external_id", rec.ExternalID, "err", err)
		return
	case err != nil:
		// written, but some fields or pictures did not make it
		o.log.Warn("Listing partially reconciled", "external_id", rec.ExternalID, "outcome", outcome.String(), "err", err)
	}
	switch outcome {
	case reconcile.OutcomeCreated:
		rep.Created++
		o.publish(ctx, events.ListingChanged{ExternalID: rec.ExternalID, Action: events.ActionCreated})
	case reconcile.OutcomeUpdated:
		rep.Updated++
		o.publish(ctx, events.ListingChanged{ExternalID: rec.ExternalID, Action: events.ActionUpdated})
	}
}

func (o *Orchestrator) publish(ctx context.Context, evt events.ListingChanged) {
	if o.Events != nil {
		evt.At = o.now().UTC()
		o.Events.PublishListingChanged(ctx, evt)
	}
}

// deleteOrphans removes every stored listing whose external id is missing
// from the whole batch, whatever the current window.
func (o *Orchestrator) deleteOrphans(ctx context.Context, props []apimo.RawProperty) (int, error) {
	known := make(map[string]struct{}, len(props))
	for _, p := range props {
		known[p.ExternalID()] = struct{}{}
	}
	stored, err := o.Store.ListListings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list listings: %w", err)
	}
	deleted := 0
	var errs []error
	for _, l := range stored {
		mls, err := o.Store.GetMeta(ctx, l.ID, reconcile.MetaMLS)
		if err != nil {
			errs = append(errs, fmt.Errorf("read mls of %d: %w", l.ID, err))
			continue
		}
		if _, ok := known[strings.TrimSpace(mls)]; ok {
			continue
		}
		if err := o.Store.DeleteListing(ctx, l.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete listing %d: %w", l.ID, err))
			continue
		}
		deleted++
		o.publish(ctx, events.ListingChanged{ExternalID: mls, ListingID: l.ID, Action: events.ActionDeleted})
		o.log.Info("Deleted listing gone from provider", "listing_id", l.ID, "external_id", mls)
	}
	return deleted, errors.Join(errs...)
}

// Cursor returns the persisted offset; a missing or unreadable value is 0.
func (o *Orchestrator) Cursor(ctx context.Context) (int, error) {
	raw, ok, err := o.Store.GetOption(ctx, CursorOption)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		o.log.Warn("Ignoring invalid cursor", "value", raw)
		return 0, nil
	}
	return n, nil
}

// Install prepares the store schema when the store supports it.
func (o *Orchestrator) Install(ctx context.Context) error {
	if m, ok := o.Store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Reset clears the cursor and the cached listing batch.
func (o *Orchestrator) Reset(ctx context.Context) error {
	var errs []error
	if err := o.Store.DeleteOption(ctx, CursorOption); err != nil {
		errs = append(errs, fmt.Errorf("delete cursor: %w", err))
	}
	if err := o.Source.Forget(ctx); err != nil {
		errs = append(errs, fmt.Errorf("forget listing cache: %w", err))
	}
	return errors.Join(errs...)
}

func slice(props []apimo.RawProperty, offset, limit int) []apimo.RawProperty {
	if offset >= len(props) {
		return nil
	}
	end := offset + limit
	if end > len(props) {
		end = len(props)
	}
	return props[offset:end]
}
