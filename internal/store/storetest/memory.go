// Package storetest provides an in-memory content store with the same
// semantics as the Postgres store, for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/listing-sync/internal/canon"
	"github.com/yourorg/listing-sync/internal/store"
)

type post struct {
	id       int64
	postType string
	title    string
	name     string
	content  string
	status   string
	parentID int64
	guid     string
	created  time.Time
	updated  time.Time
}

type Memory struct {
	mu      sync.Mutex
	nextID  int64
	posts   map[int64]*post
	meta    map[int64]map[string]string
	terms   map[int64]map[string][]string
	options map[string]string

	// Downloads lists every URL passed to SideloadMedia.
	Downloads []string
	// FailDownloads makes SideloadMedia fail for these URLs.
	FailDownloads map[string]bool
	// Writes counts mutating calls.
	Writes int
}

func New() *Memory {
	return &Memory{
		posts:         make(map[int64]*post),
		meta:          make(map[int64]map[string]string),
		terms:         make(map[int64]map[string][]string),
		options:       make(map[string]string),
		FailDownloads: make(map[string]bool),
	}
}

func (m *Memory) insert(p *post) int64 {
	m.nextID++
	p.id = m.nextID
	p.created = time.Now()
	p.updated = p.created
	m.posts[p.id] = p
	m.Writes++
	return p.id
}

func toListing(p *post) store.Listing {
	return store.Listing{ID: p.id, Title: p.title, Content: p.content, Status: p.status, CreatedAt: p.created, UpdatedAt: p.updated}
}

func toMedia(p *post) store.Media {
	return store.Media{ID: p.id, ParentID: p.parentID, GUID: p.guid, Name: p.name, Title: p.title, Backref: p.content}
}

func (m *Memory) sortedIDs(match func(*post) bool) []int64 {
	var ids []int64
	for id, p := range m.posts {
		if match(p) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ---- listings

func (m *Memory) FindListingByTitle(_ context.Context, title string) (*store.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := canon.FoldTitle(title)
	for _, id := range m.sortedIDs(func(p *post) bool { return p.postType == store.TypeListing }) {
		if canon.FoldTitle(m.posts[id].title) == key {
			l := toListing(m.posts[id])
			return &l, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindListingByMeta(_ context.Context, key, value string) (*store.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDs(func(p *post) bool { return p.postType == store.TypeListing }) {
		if v, ok := m.meta[id][key]; ok && v == value {
			l := toListing(m.posts[id])
			return &l, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertListing(_ context.Context, in store.ListingInput) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.Status == "" {
		in.Status = store.StatusPublish
	}
	return m.insert(&post{postType: store.TypeListing, title: in.Title, content: in.Content, status: in.Status}), nil
}

func (m *Memory) UpdateListing(_ context.Context, id int64, in store.ListingInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.postType != store.TypeListing {
		return store.ErrNotFound
	}
	if in.Status == "" {
		in.Status = store.StatusPublish
	}
	p.title, p.content, p.status, p.updated = in.Title, in.Content, in.Status, time.Now()
	m.Writes++
	return nil
}

func (m *Memory) DeleteListing(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.postType != store.TypeListing {
		return store.ErrNotFound
	}
	m.deletePost(id)
	return nil
}

func (m *Memory) deletePost(id int64) {
	delete(m.posts, id)
	delete(m.meta, id)
	delete(m.terms, id)
	for _, p := range m.posts {
		if p.parentID == id {
			p.parentID = 0
		}
	}
	m.Writes++
}

func (m *Memory) ListListings(_ context.Context) ([]store.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Listing
	for _, id := range m.sortedIDs(func(p *post) bool { return p.postType == store.TypeListing }) {
		out = append(out, toListing(m.posts[id]))
	}
	return out, nil
}

// ---- meta and terms

func (m *Memory) GetMeta(_ context.Context, postID int64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[postID][key], nil
}

func (m *Memory) SetMeta(_ context.Context, postID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[postID]; !ok {
		return fmt.Errorf("post %d: %w", postID, store.ErrNotFound)
	}
	if m.meta[postID] == nil {
		m.meta[postID] = make(map[string]string)
	}
	m.meta[postID][key] = value
	m.Writes++
	return nil
}

func (m *Memory) SetTerms(_ context.Context, postID int64, taxonomy string, terms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[postID]; !ok {
		return fmt.Errorf("post %d: %w", postID, store.ErrNotFound)
	}
	if m.terms[postID] == nil {
		m.terms[postID] = make(map[string][]string)
	}
	var kept []string
	seen := map[string]bool{}
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		kept = append(kept, t)
	}
	m.terms[postID][taxonomy] = kept
	m.Writes++
	return nil
}

func (m *Memory) Terms(_ context.Context, postID int64, taxonomy string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.terms[postID][taxonomy]...), nil
}

// ---- media

func (m *Memory) AttachedMedia(_ context.Context, parentID int64) ([]store.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Media
	for _, id := range m.sortedIDs(func(p *post) bool { return p.postType == store.TypeAttachment && p.parentID == parentID }) {
		out = append(out, toMedia(m.posts[id]))
	}
	return out, nil
}

func (m *Memory) FindMediaByBackref(_ context.Context, ref string) (*store.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDs(func(p *post) bool { return p.postType == store.TypeAttachment && p.content == ref }) {
		md := toMedia(m.posts[id])
		return &md, nil
	}
	return nil, nil
}

func (m *Memory) SideloadMedia(_ context.Context, url string, parentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Downloads = append(m.Downloads, url)
	if m.FailDownloads[url] {
		return 0, fmt.Errorf("download %s: simulated failure", url)
	}
	name := canon.FileName(url)
	return m.insert(&post{postType: store.TypeAttachment, title: name, name: name, status: store.StatusInherit, parentID: parentID, guid: url}), nil
}

func (m *Memory) UpdateMedia(_ context.Context, id int64, in store.MediaUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.postType != store.TypeAttachment {
		return store.ErrNotFound
	}
	p.name, p.title, p.content = in.Name, in.Title, in.Backref
	m.Writes++
	return nil
}

func (m *Memory) SetMediaParent(_ context.Context, id, parentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.postType != store.TypeAttachment {
		return store.ErrNotFound
	}
	p.parentID = parentID
	m.Writes++
	return nil
}

func (m *Memory) DeleteMedia(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.postType != store.TypeAttachment {
		return store.ErrNotFound
	}
	m.deletePost(id)
	return nil
}

// AddMedia seeds an attachment directly, e.g. an orphan left by an earlier run.
func (m *Memory) AddMedia(md store.Media) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(&post{postType: store.TypeAttachment, title: md.Title, name: md.Name, content: md.Backref, status: store.StatusInherit, parentID: md.ParentID, guid: md.GUID})
}

// MediaCount returns the number of attachments in the store.
func (m *Memory) MediaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sortedIDs(func(p *post) bool { return p.postType == store.TypeAttachment }))
}

// ---- options

func (m *Memory) GetOption(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.options[name]
	return v, ok, nil
}

func (m *Memory) SetOption(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[name] = value
	return nil
}

func (m *Memory) DeleteOption(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.options, name)
	return nil
}
