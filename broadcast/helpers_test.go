package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/Abdull600/study-circle-voice/stores/memory"
)

const waitTimeout = 2 * time.Second

// urlRecorder collects onUpdate calls.
type urlRecorder struct {
	mu   sync.Mutex
	urls []string
	ch   chan string
}

func newRecorder() *urlRecorder {
	return &urlRecorder{ch: make(chan string, 256)}
}

func (r *urlRecorder) onUpdate(url string) {
	r.mu.Lock()
	r.urls = append(r.urls, url)
	r.mu.Unlock()
	r.ch <- url
}

func (r *urlRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.urls))
	copy(out, r.urls)
	return out
}

func (r *urlRecorder) waitFor(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if got != want {
			t.Fatalf("onUpdate url mismatch: got %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("Timed out waiting for onUpdate(%q)", want)
	}
}

func (r *urlRecorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("Unexpected onUpdate(%q)", got)
	case <-time.After(d):
	}
}

// failingBlobs rejects every upload.
type failingBlobs struct {
	err error
}

func (f *failingBlobs) Upload(ctx context.Context, key, contentType string, data []byte) error {
	return f.err
}

func (f *failingBlobs) PublicURL(key string) string {
	return "https://blobs.example.com/" + key
}

// recordingBlobs remembers the keys it stored.
type recordingBlobs struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingBlobs) Upload(ctx context.Context, key, contentType string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingBlobs) PublicURL(key string) string {
	return "https://blobs.example.com/" + key
}

func (r *recordingBlobs) stored() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// failingUpdates wraps a real backend and fails every UpdateRoom.
type failingUpdates struct {
	core.RoomBackend
	err error
}

func (f *failingUpdates) UpdateRoom(ctx context.Context, id string, patch core.RoomPatch) (*core.Room, error) {
	return nil, f.err
}

// manualFeed hands events to callbacks synchronously, ignoring Close, so tests
// can check the subscription's own guarantees.
type manualFeed struct {
	mu        sync.Mutex
	callbacks []func(core.RoomEvent)
	handles   []*manualHandle
}

type manualHandle struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (h *manualHandle) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

func (h *manualHandle) Done() <-chan struct{} { return h.done }
func (h *manualHandle) Err() error            { return h.err }

func (m *manualFeed) SubscribeChanges(ctx context.Context, roomID string, callback func(core.RoomEvent)) (core.FeedHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &manualHandle{done: make(chan struct{})}
	m.callbacks = append(m.callbacks, callback)
	m.handles = append(m.handles, h)
	return h, nil
}

func (m *manualFeed) emit(ev core.RoomEvent) {
	m.mu.Lock()
	cbs := append([]func(core.RoomEvent){}, m.callbacks...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func newBackend(t *testing.T) core.RoomBackend {
	t.Helper()
	return memory.NewRoomStore(feed.NewHub(16))
}

func createRoom(t *testing.T, rooms core.RoomStore, id, instructor string) *core.Room {
	t.Helper()
	room := &core.Room{ID: id, Name: id + " room", InstructorID: instructor}
	if err := rooms.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	return room
}

func roomEvent(id, url string, version int64) core.RoomEvent {
	u := url
	return core.RoomEvent{
		Type: core.EventUpdate,
		New:  core.Room{ID: id, InstructorID: "U1", CurrentDocumentURL: &u, Version: version},
	}
}

var errBoom = errors.New("boom")
