package events

import (
	"context"
	"testing"
)

func TestJournal_RecentNewestFirst(t *testing.T) {
	j := NewJournal(3)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4"} {
		j.PublishListingChanged(ctx, ListingChanged{ExternalID: id, Action: ActionUpdated})
	}

	got := j.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	for i, want := range []string{"4", "3", "2"} {
		if got[i].ExternalID != want {
			t.Fatalf("got[%d]=%s, want %s", i, got[i].ExternalID, want)
		}
		if got[i].At.IsZero() {
			t.Fatalf("got[%d] missing timestamp", i)
		}
	}
	if got := j.Recent(1); len(got) != 1 || got[0].ExternalID != "4" {
		t.Fatalf("Recent(1)=%+v", got)
	}
}

func TestJournal_Empty(t *testing.T) {
	if got := NewJournal(4).Recent(10); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
}
