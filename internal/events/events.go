package events

import (
	"context"
	"sync"
	"time"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// ListingChanged is emitted once per stored listing a pass writes or removes.
type ListingChanged struct {
	ExternalID string    `json:"external_id"`
	ListingID  int64     `json:"listing_id,omitempty"`
	Action     Action    `json:"action"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	PublishListingChanged(ctx context.Context, evt ListingChanged)
}

// Journal keeps the most recent events in a fixed-size ring.
type Journal struct {
	mu   sync.Mutex
	buf  []ListingChanged
	next int
	full bool
}

func NewJournal(size int) *Journal {
	if size <= 0 {
		size = 256
	}
	return &Journal{buf: make([]ListingChanged, size)}
}

func (j *Journal) PublishListingChanged(_ context.Context, evt ListingChanged) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf[j.next] = evt
	j.next = (j.next + 1) % len(j.buf)
	if j.next == 0 {
		j.full = true
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all retained.
func (j *Journal) Recent(n int) []ListingChanged {
	j.mu.Lock()
	defer j.mu.Unlock()
	size := j.next
	if j.full {
		size = len(j.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]ListingChanged, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + len(j.buf)) % len(j.buf)
		out = append(out, j.buf[idx])
	}
	return out
}
