package reconcile

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/yourorg/listing-sync/internal/listing"
	"github.com/yourorg/listing-sync/internal/store"
	"github.com/yourorg/listing-sync/internal/store/storetest"
)

func newListing(t *testing.T, st *storetest.Memory) int64 {
	t.Helper()
	id, err := st.InsertListing(context.Background(), store.ListingInput{Title: "Villa"})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func attachedIDs(t *testing.T, st *storetest.Memory, listingID int64) []int64 {
	t.Helper()
	ms, err := st.AttachedMedia(context.Background(), listingID)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]int64, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

var pictures = []listing.Image{
	{ExternalID: "p3", URL: "https://cdn.example.com/three.jpg", Rank: 3},
	{ExternalID: "p1", URL: "https://cdn.example.com/one.jpg?w=800", Rank: 1},
	{ExternalID: "p2", URL: "https://cdn.example.com/two.jpg", Rank: 2},
}

func TestImages_SideloadsAndOrdersByRank(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	ctx := context.Background()

	ids, err := NewImageReconciler(st, quietLog()).Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(ids) != 3 || len(st.Downloads) != 3 {
		t.Fatalf("ids=%v downloads=%v", ids, st.Downloads)
	}

	ms, _ := st.AttachedMedia(ctx, lid)
	byID := map[int64]store.Media{}
	for _, m := range ms {
		byID[m.ID] = m
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		m := byID[ids[i]]
		if m.Backref != want || m.Title != "Villa" || m.Name != "Villa" {
			t.Errorf("rank %d media = %+v", i+1, m)
		}
	}

	if got, _ := st.GetMeta(ctx, lid, MetaImagesOrder); got != joinIDs(ids) {
		t.Errorf("order=%q, want %q", got, joinIDs(ids))
	}
	if got, _ := st.GetMeta(ctx, lid, MetaThumbnail); got != strconv.FormatInt(ids[0], 10) {
		t.Errorf("thumbnail=%q, want %d", got, ids[0])
	}
}

func TestImages_Idempotent(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	ir := NewImageReconciler(st, quietLog())
	ctx := context.Background()

	first, err := ir.Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatal(err)
	}
	attached := attachedIDs(t, st, lid)

	second, err := ir.Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rank order changed: %v -> %v", first, second)
	}
	if got := attachedIDs(t, st, lid); !reflect.DeepEqual(got, attached) {
		t.Fatalf("attached set changed: %v -> %v", attached, got)
	}
	if len(st.Downloads) != 3 {
		t.Fatalf("downloads=%d, want 3", len(st.Downloads))
	}
}

func TestImages_RemovesOrphans(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	ctx := context.Background()

	stale := st.AddMedia(store.Media{ParentID: lid, GUID: "https://cdn.example.com/old.jpg", Backref: "p9"})
	// same id but the file behind it changed
	renamed := st.AddMedia(store.Media{ParentID: lid, GUID: "https://cdn.example.com/two-old.jpg", Backref: "p2"})

	ids, err := NewImageReconciler(st, quietLog()).Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatal(err)
	}
	got := attachedIDs(t, st, lid)
	for _, id := range got {
		if id == stale || id == renamed {
			t.Fatalf("orphan %d still attached: %v", id, got)
		}
	}
	if len(got) != len(pictures) || st.MediaCount() != len(pictures) {
		t.Fatalf("attached=%v media=%d, want %d", got, st.MediaCount(), len(pictures))
	}
	if len(ids) != 3 {
		t.Fatalf("ids=%v", ids)
	}
}

func TestImages_ReattachesParentless(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	ctx := context.Background()

	loose := st.AddMedia(store.Media{GUID: "https://cdn.example.com/one.jpg", Backref: "p1"})

	ids, err := NewImageReconciler(st, quietLog()).Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != loose {
		t.Fatalf("rank 1 id=%d, want reused %d", ids[0], loose)
	}
	for _, u := range st.Downloads {
		if strings.Contains(u, "one.jpg") {
			t.Fatalf("parentless image downloaded again: %v", st.Downloads)
		}
	}
	if got := attachedIDs(t, st, lid); len(got) != 3 {
		t.Fatalf("attached=%v", got)
	}
}

func TestImages_ParentlessWithOtherFileIsNotAdopted(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	ctx := context.Background()
	ir := NewImageReconciler(st, quietLog())

	loose := st.AddMedia(store.Media{GUID: "https://cdn.example.com/old-one.jpg", Backref: "p1"})

	first, err := ir.Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatal(err)
	}
	if first[0] == loose {
		t.Fatalf("rank 1 reused %d holding another file", loose)
	}
	var fetched bool
	for _, u := range st.Downloads {
		fetched = fetched || strings.Contains(u, "/one.jpg")
	}
	if !fetched {
		t.Fatalf("one.jpg not downloaded: %v", st.Downloads)
	}
	attached := attachedIDs(t, st, lid)
	downloads := len(st.Downloads)

	second, err := ir.Reconcile(ctx, lid, "Villa", pictures)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ids changed: %v -> %v", first, second)
	}
	if got := attachedIDs(t, st, lid); !reflect.DeepEqual(got, attached) {
		t.Fatalf("attached changed: %v -> %v", attached, got)
	}
	if len(st.Downloads) != downloads {
		t.Fatalf("second pass downloaded again: %v", st.Downloads[downloads:])
	}
	for _, id := range attached {
		if id == loose {
			t.Fatalf("stale media %d attached: %v", loose, attached)
		}
	}
}

func TestImages_DownloadFailureSkipsPicture(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	st.FailDownloads["https://cdn.example.com/one.jpg?w=800"] = true
	ctx := context.Background()

	ids, err := NewImageReconciler(st, quietLog()).Reconcile(ctx, lid, "Villa", pictures)
	if err == nil {
		t.Fatal("expected download error")
	}
	if len(ids) != 2 {
		t.Fatalf("ids=%v, want the two good pictures", ids)
	}
	if got, _ := st.GetMeta(ctx, lid, MetaImagesOrder); got != joinIDs(ids) {
		t.Fatalf("order=%q", got)
	}
	if got, _ := st.GetMeta(ctx, lid, MetaThumbnail); got != "" {
		t.Fatalf("thumbnail=%q, want unset", got)
	}
}

func TestImages_EmptyListDetachesEverything(t *testing.T) {
	st := storetest.New()
	lid := newListing(t, st)
	ctx := context.Background()
	st.AddMedia(store.Media{ParentID: lid, GUID: "https://cdn.example.com/x.jpg", Backref: "px"})

	ids, err := NewImageReconciler(st, quietLog()).Reconcile(ctx, lid, "Villa", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 || st.MediaCount() != 0 {
		t.Fatalf("ids=%v media=%d", ids, st.MediaCount())
	}
	if got, _ := st.GetMeta(ctx, lid, MetaImagesOrder); got != "" {
		t.Fatalf("order=%q", got)
	}
}
