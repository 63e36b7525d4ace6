package core

import (
	"context"
	"time"
)

type (
	// Room is a study session with exactly one instructor. CurrentDocumentURL is
	// nil until the instructor publishes the first document.
	Room struct {
		ID                 string    `json:"id" db:"id"`
		Name               string    `json:"name" db:"name"`
		InstructorID       string    `json:"instructorId" db:"instructor_id"`
		InstructorName     string    `json:"instructorName" db:"instructor_name"`
		CurrentDocumentURL *string   `json:"currentDocumentUrl" db:"current_document_url"`
		Version            int64     `json:"version" db:"version"`
		CreatedAt          time.Time `json:"createdAt" db:"created_at"`
		UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
	}

	// RoomPatch is a partial update. Nil fields are left untouched.
	// RequireInstructor, when set, makes the update conditional on the stored
	// instructor id matching it.
	RoomPatch struct {
		Name               *string
		CurrentDocumentURL *string
		RequireInstructor  string
	}

	RoomStore interface {
		CreateRoom(ctx context.Context, room *Room) error
		GetRoom(ctx context.Context, id string) (*Room, error)
		ListRooms(ctx context.Context) ([]*Room, error)
		// UpdateRoom applies patch, bumps Version and returns the stored room.
		UpdateRoom(ctx context.Context, id string, patch RoomPatch) (*Room, error)
	}

	EventType string

	// RoomEvent is one change notification. Delivery is at-least-once, so the
	// same event may arrive more than once.
	RoomEvent struct {
		Type EventType `json:"type"`
		New  Room      `json:"new"`
	}

	// FeedHandle is a live change subscription.
	FeedHandle interface {
		// Close stops delivery. It is idempotent and no callback runs after it returns.
		Close() error
		// Done is closed once the handle stops delivering, for any reason.
		Done() <-chan struct{}
		// Err is nil after Close, ErrFeedDisconnected if the feed dropped.
		Err() error
	}

	ChangeFeed interface {
		SubscribeChanges(ctx context.Context, roomID string, callback func(RoomEvent)) (FeedHandle, error)
	}

	// RoomBackend is what the storage layer hands to the rest of the service.
	RoomBackend interface {
		RoomStore
		ChangeFeed
	}
)

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// DocumentURL returns the shared document url or "" when none was published.
func (r *Room) DocumentURL() string {
	if r == nil || r.CurrentDocumentURL == nil {
		return ""
	}
	return *r.CurrentDocumentURL
}

// Clone returns a deep copy so callers never share the url pointer with a store.
func (r *Room) Clone() *Room {
	c := *r
	if r.CurrentDocumentURL != nil {
		u := *r.CurrentDocumentURL
		c.CurrentDocumentURL = &u
	}
	return &c
}

// Apply writes the patch into r. It does not touch Version or timestamps.
func (p RoomPatch) Apply(r *Room) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.CurrentDocumentURL != nil {
		u := *p.CurrentDocumentURL
		r.CurrentDocumentURL = &u
	}
}
