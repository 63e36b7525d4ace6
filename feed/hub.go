// Package feed is an in-process change feed. Stores publish room events into a
// Hub and every subscriber gets its own delivery goroutine.
package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 64

type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[string]*handle
	buffer    int
	suspended bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[string]*handle),
		buffer: buffer,
	}
}

// SubscribeChanges registers callback for events of roomID. The subscription
// is released when ctx is cancelled or the handle is closed.
func (h *Hub) SubscribeChanges(ctx context.Context, roomID string, callback func(core.RoomEvent)) (core.FeedHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hd := &handle{
		id:       uuid.NewString(),
		roomID:   roomID,
		hub:      h,
		callback: callback,
		events:   make(chan core.RoomEvent, h.buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.suspended {
		h.mu.Unlock()
		return nil, fmt.Errorf("subscribe to room %s: %w", roomID, core.ErrFeedDisconnected)
	}
	room, ok := h.subs[roomID]
	if !ok {
		room = make(map[string]*handle)
		h.subs[roomID] = room
	}
	room[hd.id] = hd
	h.mu.Unlock()

	go hd.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = hd.Close()
		case <-hd.done:
		}
	}()

	logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"subscription_id": hd.id,
	}).Debug("Feed subscription opened")

	return hd, nil
}

// Publish fans ev out to every subscriber of its room. A subscriber whose
// buffer is full is dropped with core.ErrFeedDisconnected instead of blocking
// the writer.
func (h *Hub) Publish(ev core.RoomEvent) {
	var slow []*handle

	h.mu.RLock()
	for _, hd := range h.subs[ev.New.ID] {
		select {
		case hd.events <- ev:
		default:
			slow = append(slow, hd)
		}
	}
	h.mu.RUnlock()

	for _, hd := range slow {
		logrus.WithFields(logrus.Fields{
			"room_id":         hd.roomID,
			"subscription_id": hd.id,
		}).Warn("Feed subscriber too slow, disconnecting")
		// The callback may be running and waiting on the publisher's locks.
		go hd.finish(core.ErrFeedDisconnected)
	}
}

// DisconnectAll drops every subscription with core.ErrFeedDisconnected. It is
// used when the upstream source of events is lost.
func (h *Hub) DisconnectAll() {
	h.mu.RLock()
	all := make([]*handle, 0)
	for _, room := range h.subs {
		for _, hd := range room {
			all = append(all, hd)
		}
	}
	h.mu.RUnlock()

	for _, hd := range all {
		hd.finish(core.ErrFeedDisconnected)
	}
}

// Suspend marks the upstream source as lost. Current subscriptions are
// dropped with core.ErrFeedDisconnected and new ones are refused until
// Resume, so nobody waits on a feed that cannot deliver.
func (h *Hub) Suspend() {
	h.mu.Lock()
	h.suspended = true
	h.mu.Unlock()
	h.DisconnectAll()
}

// Resume accepts subscriptions again.
func (h *Hub) Resume() {
	h.mu.Lock()
	h.suspended = false
	h.mu.Unlock()
}

func (h *Hub) Suspended() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.suspended
}

func (h *Hub) remove(hd *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.subs[hd.roomID]
	if !ok {
		return
	}
	delete(room, hd.id)
	if len(room) == 0 {
		delete(h.subs, hd.roomID)
	}
}

type handle struct {
	id       string
	roomID   string
	hub      *Hub
	callback func(core.RoomEvent)
	events   chan core.RoomEvent
	stop     chan struct{}
	done     chan struct{}

	// mu serializes callback invocations with Close.
	mu     sync.Mutex
	closed bool
	err    error
	once   sync.Once
}

func (hd *handle) run() {
	for {
		select {
		case <-hd.stop:
			return
		case ev := <-hd.events:
			hd.mu.Lock()
			if !hd.closed {
				hd.callback(ev)
			}
			hd.mu.Unlock()
		}
	}
}

// Close must not be called from inside the callback.
func (hd *handle) Close() error {
	hd.finish(nil)
	return nil
}

func (hd *handle) Done() <-chan struct{} {
	return hd.done
}

func (hd *handle) Err() error {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.err
}

func (hd *handle) finish(err error) {
	hd.once.Do(func() {
		hd.mu.Lock()
		hd.closed = true
		hd.err = err
		hd.mu.Unlock()

		hd.hub.remove(hd)
		close(hd.stop)
		close(hd.done)

		logrus.WithFields(logrus.Fields{
			"room_id":         hd.roomID,
			"subscription_id": hd.id,
			"error":           err,
		}).Debug("Feed subscription closed")
	})
}
