package client

import (
	"fmt"
	"testing"

	"github.com/markb/chatsync/internal/protocol"
)

func TestFeedKinds(t *testing.T) {
	bus := NewBus()
	n := NewFeedNotifier(bus)
	defer n.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventFeedNotification, protocol.FeedItemPayload{ID: "f1", Message: "a"}))
	bus.Dispatch(protocol.NewFrame(protocol.EventNewRecognition, protocol.FeedItemPayload{ID: "f2", Message: "b"}))
	bus.Dispatch(protocol.NewFrame(protocol.EventNewKudos, protocol.FeedItemPayload{ID: "f3", Message: "c"}))

	recent := n.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 items, got %d", len(recent))
	}
	if recent[0].Kind != FeedNotification || recent[1].Kind != FeedRecognition || recent[2].Kind != FeedKudos {
		t.Errorf("kind mapping mismatch: %v", recent)
	}
}

func TestFeedOnItemCallback(t *testing.T) {
	bus := NewBus()
	n := NewFeedNotifier(bus)
	defer n.Close()

	var got []FeedItem
	n.OnItem(func(item FeedItem) { got = append(got, item) })

	bus.Dispatch(protocol.NewFrame(protocol.EventNewKudos, protocol.FeedItemPayload{ID: "f1", Message: "nice"}))

	if len(got) != 1 || got[0].ID != "f1" || got[0].Kind != FeedKudos {
		t.Errorf("callback mismatch: %v", got)
	}
}

func TestFeedRecentBounded(t *testing.T) {
	bus := NewBus()
	n := NewFeedNotifier(bus)
	defer n.Close()

	for i := 0; i < feedRecentLimit+10; i++ {
		bus.Dispatch(protocol.NewFrame(protocol.EventFeedNotification, protocol.FeedItemPayload{
			ID: fmt.Sprintf("f%d", i),
		}))
	}

	recent := n.Recent()
	if len(recent) != feedRecentLimit {
		t.Fatalf("expected %d items, got %d", feedRecentLimit, len(recent))
	}
	// Oldest entries were evicted.
	if recent[0].ID != "f10" {
		t.Errorf("expected f10 first, got %s", recent[0].ID)
	}
}

func TestFeedDropsItemsWithoutID(t *testing.T) {
	bus := NewBus()
	n := NewFeedNotifier(bus)
	defer n.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventFeedNotification, protocol.FeedItemPayload{Message: "no id"}))

	if got := len(n.Recent()); got != 0 {
		t.Errorf("items without id should be dropped, got %d", got)
	}
}
