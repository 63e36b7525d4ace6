package broadcast

import (
	"context"
	"sync"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/sirupsen/logrus"
)

type Subscriber struct {
	rooms RoomReader
	feed  core.ChangeFeed
	view  *View
}

func NewSubscriber(rooms RoomReader, feed core.ChangeFeed, view *View) *Subscriber {
	return &Subscriber{rooms: rooms, feed: feed, view: view}
}

// Subscription delivers the current document url of one room. onUpdate calls
// are serialized and never repeat the last delivered url.
type Subscription struct {
	roomID   string
	onUpdate func(url string)
	view     *View

	mu          sync.Mutex
	closed      bool
	lastURL     string
	lastVersion int64
	handle      core.FeedHandle
}

// Subscribe attaches to the room's change feed, then reads the room once and
// calls onUpdate right away if a document is already shared. Attaching first
// means no write between the read and the first event can be missed. The
// subscription ends when ctx is cancelled or Unsubscribe is called.
func (s *Subscriber) Subscribe(ctx context.Context, roomID string, onUpdate func(url string)) (*Subscription, error) {
	sub := &Subscription{
		roomID:   roomID,
		onUpdate: onUpdate,
		view:     s.view,
	}

	// Events queue behind the initial read.
	sub.mu.Lock()
	handle, err := s.feed.SubscribeChanges(ctx, roomID, sub.handleEvent)
	if err != nil {
		sub.closed = true
		sub.mu.Unlock()
		return nil, err
	}
	sub.handle = handle

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		sub.closed = true
		sub.mu.Unlock()
		_ = handle.Close()
		return nil, err
	}
	sub.deliverLocked(room)
	sub.mu.Unlock()

	logrus.WithField("room_id", roomID).Debug("Document subscription started")
	return sub, nil
}

func (sub *Subscription) handleEvent(ev core.RoomEvent) {
	if ev.Type == core.EventDelete {
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.deliverLocked(&ev.New)
}

func (sub *Subscription) deliverLocked(room *core.Room) {
	if sub.closed {
		return
	}
	url := room.DocumentURL()
	if url == "" {
		return
	}
	if room.Version > 0 && room.Version <= sub.lastVersion {
		return
	}
	if room.Version > sub.lastVersion {
		sub.lastVersion = room.Version
	}
	if url == sub.lastURL {
		return
	}

	sub.lastURL = url
	if sub.view != nil {
		sub.view.Set(sub.roomID, url, room.Version)
	}
	sub.onUpdate(url)
}

// Unsubscribe is idempotent. Once it returns onUpdate is never called again.
// It must not be called from inside onUpdate.
func (sub *Subscription) Unsubscribe() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()

	_ = sub.handle.Close()
	logrus.WithField("room_id", sub.roomID).Debug("Document subscription stopped")
}

// Disconnected is closed when the subscription stops receiving events, either
// through Unsubscribe or because the feed dropped. Err tells them apart.
func (sub *Subscription) Disconnected() <-chan struct{} {
	return sub.handle.Done()
}

// Err returns core.ErrFeedDisconnected after a feed drop and nil otherwise.
func (sub *Subscription) Err() error {
	return sub.handle.Err()
}

func (sub *Subscription) RoomID() string {
	return sub.roomID
}
