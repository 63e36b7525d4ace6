package broadcast

import (
	"context"
	"sync"

	"github.com/Abdull600/study-circle-voice/core"
)

// RoomReader is the read side of a room store. Remote clients implement it
// over the HTTP API.
type RoomReader interface {
	GetRoom(ctx context.Context, id string) (*core.Room, error)
}

// IsInstructor reports whether viewer is the instructor of roomID. It does a
// fresh point read each call; the same viewer can teach one room and attend
// another.
func IsInstructor(ctx context.Context, rooms RoomReader, roomID, viewer string) (bool, error) {
	room, err := rooms.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return viewer != "" && room.InstructorID == viewer, nil
}

// Session is one viewer's visit to a room. Mute and hand state never leave
// the process.
type Session struct {
	RoomID       string
	IsInstructor bool

	mu         sync.Mutex
	muted      bool
	handRaised bool
}

// NewSession resolves the viewer's role once. Viewers join muted with their
// hand down.
func NewSession(ctx context.Context, rooms RoomReader, roomID string, viewer core.Identity) (*Session, error) {
	instructor, err := IsInstructor(ctx, rooms, roomID, viewer.ID)
	if err != nil {
		return nil, err
	}
	return &Session{
		RoomID:       roomID,
		IsInstructor: instructor,
		muted:        true,
	}, nil
}

func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = !s.muted
	return s.muted
}

func (s *Session) ToggleHand() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handRaised = !s.handRaised
	return s.handRaised
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) HandRaised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handRaised
}
