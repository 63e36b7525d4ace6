package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/Abdull600/study-circle-voice/stores/memory"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// stallingBuffer blocks the first document line until release is closed.
type stallingBuffer struct {
	syncBuffer
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (b *stallingBuffer) Write(p []byte) (int, error) {
	if strings.HasPrefix(string(p), "Document:") {
		b.once.Do(func() {
			close(b.stalled)
			<-b.release
		})
	}
	return b.syncBuffer.Write(p)
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("Output never contained %q:\n%s", want, out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func setDocument(t *testing.T, backend core.RoomBackend, url string) {
	t.Helper()
	if _, err := backend.UpdateRoom(context.Background(), "R1", core.RoomPatch{CurrentDocumentURL: &url, RequireInstructor: "U1"}); err != nil {
		t.Fatalf("UpdateRoom() failed: %v", err)
	}
}

func startWatch(t *testing.T, backend core.RoomBackend, me core.Identity) (*io.PipeWriter, *syncBuffer, <-chan error) {
	t.Helper()
	in, input := io.Pipe()
	t.Cleanup(func() { input.Close() })
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- watchRoom(context.Background(), backend, me, "R1", in, out)
	}()
	return input, out, errCh
}

func newWatchBackend(t *testing.T) (*feed.Hub, core.RoomBackend) {
	t.Helper()
	hub := feed.NewHub(16)
	backend := memory.NewRoomStore(hub)
	if err := backend.CreateRoom(context.Background(), &core.Room{ID: "R1", InstructorID: "U1"}); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	return hub, backend
}

func TestWatchRoom_FollowsDocument(t *testing.T) {
	_, backend := newWatchBackend(t)
	setDocument(t, backend, "https://blobs.test/R1/a.pdf")

	input, out, errCh := startWatch(t, backend, core.Identity{ID: "U2"})

	waitForOutput(t, out, "Joined R1 as participant (muted)")
	waitForOutput(t, out, "Document: https://blobs.test/R1/a.pdf")

	setDocument(t, backend, "https://blobs.test/R1/b.pdf")
	waitForOutput(t, out, "Document: https://blobs.test/R1/b.pdf")

	io.WriteString(input, "mute\n")
	waitForOutput(t, out, "Unmuted")
	io.WriteString(input, "hand\n")
	waitForOutput(t, out, "Hand raised")
	io.WriteString(input, "dance\n")
	waitForOutput(t, out, `Unknown command "dance"`)
	io.WriteString(input, "quit\n")

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("watchRoom() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchRoom() did not return after quit")
	}
}

func TestWatchRoom_Instructor(t *testing.T) {
	_, backend := newWatchBackend(t)
	input, out, errCh := startWatch(t, backend, core.Identity{ID: "U1"})

	waitForOutput(t, out, "Joined R1 as instructor")
	input.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("watchRoom() returned %v at end of input", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchRoom() did not return at end of input")
	}
}

func TestWatchRoom_FeedDisconnected(t *testing.T) {
	hub, backend := newWatchBackend(t)
	_, out, errCh := startWatch(t, backend, core.Identity{ID: "U2"})
	waitForOutput(t, out, "Joined R1")

	// Let Subscribe attach before dropping the feed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.DisconnectAll()
		select {
		case err := <-errCh:
			if !errors.Is(err, core.ErrFeedDisconnected) {
				t.Errorf("Expected ErrFeedDisconnected, got %v", err)
			}
			waitForOutput(t, out, "Disconnected from the room")
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("watchRoom() did not report the dropped feed")
		}
	}
}

func TestWatchRoom_UnknownRoom(t *testing.T) {
	hub := feed.NewHub(16)
	backend := memory.NewRoomStore(hub)

	err := watchRoom(context.Background(), backend, core.Identity{ID: "U2"}, "R1", strings.NewReader(""), io.Discard)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWatchRoom_SlowOutputShowsLatest(t *testing.T) {
	// The hub buffers every write so only the output falls behind.
	backend := memory.NewRoomStore(feed.NewHub(64))
	if err := backend.CreateRoom(context.Background(), &core.Room{ID: "R1", InstructorID: "U1"}); err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	out := &stallingBuffer{stalled: make(chan struct{}), release: make(chan struct{})}
	in, input := io.Pipe()
	defer input.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- watchRoom(context.Background(), backend, core.Identity{ID: "U2"}, "R1", in, out)
	}()
	waitForOutput(t, &out.syncBuffer, "Joined R1")

	setDocument(t, backend, "https://blobs.test/R1/0.pdf")
	select {
	case <-out.stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("First document line was never written")
	}

	for i := 1; i <= 40; i++ {
		setDocument(t, backend, fmt.Sprintf("https://blobs.test/R1/%d.pdf", i))
	}
	close(out.release)

	waitForOutput(t, &out.syncBuffer, "Document: https://blobs.test/R1/40.pdf")

	io.WriteString(input, "doc\n")
	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "R1/40.pdf") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("doc should repeat the latest document:\n%s", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	io.WriteString(input, "quit\n")
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("watchRoom() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchRoom() did not return after quit")
	}
}

func TestWatchRoom_DocBeforeAnyShare(t *testing.T) {
	_, backend := newWatchBackend(t)
	input, out, errCh := startWatch(t, backend, core.Identity{ID: "U2"})
	waitForOutput(t, out, "Joined R1")

	io.WriteString(input, "doc\n")
	waitForOutput(t, out, "No document shared yet")
	input.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("watchRoom() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchRoom() did not return at end of input")
	}
}
