package store

import (
	"context"
	"errors"
	"time"
)

const (
	TypeListing    = "listings"
	TypeAttachment = "attachment"

	StatusPublish = "publish"
	StatusInherit = "inherit"
)

var ErrNotFound = errors.New("not found")

// Listing is a stored listing post. Metadata and terms live beside it.
type Listing struct {
	ID        int64
	Title     string
	Content   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ListingInput struct {
	Title   string
	Content string
	Status  string
}

// Media is an attachment post. Backref carries the remote image id; ParentID
// is 0 for unattached media.
type Media struct {
	ID       int64
	ParentID int64
	GUID     string
	Name     string
	Title    string
	Backref  string
}

type MediaUpdate struct {
	Name    string
	Title   string
	Backref string
}

// Downloader fetches remote media for SideloadMedia.
type Downloader interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}
