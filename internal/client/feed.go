package client

import (
	"sync"
	"time"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

// feedRecentLimit bounds the in-memory recent list.
const feedRecentLimit = 50

// FeedKind classifies a feed toast.
type FeedKind string

const (
	FeedNotification FeedKind = "notification"
	FeedRecognition  FeedKind = "recognition"
	FeedKudos        FeedKind = "kudos"
)

// FeedItem is one toast surfaced from the feed event family.
type FeedItem struct {
	Kind        FeedKind
	ID          string
	SenderID    string
	SenderName  string
	RecipientID string
	Message     string
	CreatedAt   time.Time
}

// FeedNotifier folds feed_notification, new_recognition, and new_kudos
// events into a bounded recent list and an optional per-item callback for
// toast rendering.
type FeedNotifier struct {
	mu     sync.Mutex
	recent []FeedItem
	onItem func(FeedItem)
	subs   []*Subscription
}

// NewFeedNotifier creates a notifier subscribed to bus.
func NewFeedNotifier(bus *Bus) *FeedNotifier {
	n := &FeedNotifier{}
	n.subs = append(n.subs,
		bus.On(protocol.EventFeedNotification, n.handlerFor(FeedNotification)),
		bus.On(protocol.EventNewRecognition, n.handlerFor(FeedRecognition)),
		bus.On(protocol.EventNewKudos, n.handlerFor(FeedKudos)),
	)
	return n
}

// OnItem sets the callback invoked for each arriving feed item.
func (n *FeedNotifier) OnItem(fn func(FeedItem)) {
	n.mu.Lock()
	n.onItem = fn
	n.mu.Unlock()
}

func (n *FeedNotifier) handlerFor(kind FeedKind) Handler {
	return func(frame *protocol.Frame) {
		var p protocol.FeedItemPayload
		if err := frame.DecodePayload(&p); err != nil {
			log.Debug("feed: dropping malformed payload", "frame_type", frame.Type, "error", err.Error())
			return
		}
		if p.ID == "" {
			return
		}

		item := FeedItem{
			Kind:        kind,
			ID:          p.ID,
			SenderID:    p.SenderID,
			SenderName:  p.SenderName,
			RecipientID: p.RecipientID,
			Message:     p.Message,
			CreatedAt:   p.CreatedAt,
		}

		n.mu.Lock()
		n.recent = append(n.recent, item)
		if len(n.recent) > feedRecentLimit {
			n.recent = n.recent[len(n.recent)-feedRecentLimit:]
		}
		fn := n.onItem
		n.mu.Unlock()

		if fn != nil {
			fn(item)
		}
	}
}

// Recent returns a snapshot of the recent feed items, oldest first.
func (n *FeedNotifier) Recent() []FeedItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]FeedItem, len(n.recent))
	copy(out, n.recent)
	return out
}

// Close releases the notifier's bus subscriptions.
func (n *FeedNotifier) Close() {
	for _, s := range n.subs {
		s.Cancel()
	}
	n.subs = nil
}
