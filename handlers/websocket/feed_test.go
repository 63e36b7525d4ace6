package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Abdull600/study-circle-voice/broadcast"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/Abdull600/study-circle-voice/stores/memory"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type fixture struct {
	hub       *feed.Hub
	backend   core.RoomBackend
	publisher *broadcast.Publisher
	presence  *Presence
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := feed.NewHub(16)
	backend := memory.NewRoomStore(hub)
	if err := backend.CreateRoom(context.Background(), &core.Room{ID: "R1", InstructorID: "U1"}); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}

	presence := NewPresence()
	origins := OriginPatterns([]string{"http://localhost:*"})
	subscriber := broadcast.NewSubscriber(backend, backend, nil)

	r := chi.NewRouter()
	r.Get("/api/rooms/{roomId}/feed", HandleDocumentFeed(subscriber, presence, origins))
	r.Get("/api/rooms/{roomId}/events", HandleRoomEvents(backend, backend, presence, origins))
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &fixture{
		hub:       hub,
		backend:   backend,
		publisher: broadcast.NewPublisher(backend, memory.NewBlobStore("http://localhost:3002/api/blobs"), nil),
		presence:  presence,
		server:    server,
	}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) failed: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) publish(t *testing.T, name string) string {
	t.Helper()
	url, err := f.publisher.Publish(context.Background(), "R1", "U1", core.Document{Name: name, Data: []byte("%PDF")})
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	return url
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	return frame
}

func waitForCount(t *testing.T, p *Presence, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.Count(roomID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("Viewer count for %s: got %d, want %d", roomID, p.Count(roomID), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDocumentFeed_CurrentAndUpdates(t *testing.T) {
	f := newFixture(t)
	first := f.publish(t, "a.pdf")

	conn := f.dial(t, "/api/rooms/R1/feed")

	if frame := readFrame(t, conn); frame.Type != FrameDocument || frame.URL != first || frame.RoomID != "R1" {
		t.Errorf("Initial frame mismatch: %+v", frame)
	}

	second := f.publish(t, "b.pdf")
	if frame := readFrame(t, conn); frame.URL != second {
		t.Errorf("Update frame mismatch: got %q, want %q", frame.URL, second)
	}
	waitForCount(t, f.presence, "R1", 1)

	conn.Close()
	waitForCount(t, f.presence, "R1", 0)
}

func TestDocumentFeed_NoDocumentYet(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/api/rooms/R1/feed")
	waitForCount(t, f.presence, "R1", 1)

	url := f.publish(t, "a.pdf")
	if frame := readFrame(t, conn); frame.URL != url {
		t.Errorf("First frame should carry the first publish, got %+v", frame)
	}
}

func TestDocumentFeed_Disconnected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/api/rooms/R1/feed")
	waitForCount(t, f.presence, "R1", 1)

	f.hub.DisconnectAll()

	if frame := readFrame(t, conn); frame.Type != FrameDisconnected {
		t.Errorf("Expected disconnected frame, got %+v", frame)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close, got %v", err)
	}
}

func TestDocumentFeed_Errors(t *testing.T) {
	f := newFixture(t)
	base := "ws" + strings.TrimPrefix(f.server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/api/rooms/missing/feed", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Unknown room should be 404, got %v %v", resp, err)
	}

	header := http.Header{"Origin": []string{"https://evil.com"}}
	_, resp, err = websocket.DefaultDialer.Dial(base+"/api/rooms/R1/feed", header)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Foreign origin should be rejected, got %v %v", resp, err)
	}
}

func TestRoomEvents_Relay(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/api/rooms/R1/events")
	waitForCount(t, f.presence, "R1", 1)

	url := f.publish(t, "a.pdf")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev core.RoomEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if ev.Type != core.EventUpdate || ev.New.ID != "R1" || ev.New.DocumentURL() != url || ev.New.Version != 2 {
		t.Errorf("Relayed event mismatch: %+v", ev)
	}
}

func TestRoomEvents_UnknownRoom(t *testing.T) {
	f := newFixture(t)
	base := "ws" + strings.TrimPrefix(f.server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/api/rooms/missing/events", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Unknown room should be 404, got %v %v", resp, err)
	}
}

func TestDocumentFeed_SuspendedFeed(t *testing.T) {
	f := newFixture(t)
	f.hub.Suspend()
	base := "ws" + strings.TrimPrefix(f.server.URL, "http")

	for _, path := range []string{"/api/rooms/R1/feed", "/api/rooms/R1/events"} {
		_, resp, err := websocket.DefaultDialer.Dial(base+path, nil)
		if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s with a suspended feed should be 503, got %v %v", path, resp, err)
		}
	}
	if got := f.presence.Count("R1"); got != 0 {
		t.Errorf("Refused viewers should not be counted, got %d", got)
	}
}
