package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type roomStore struct {
	*feed.Hub

	mu    sync.RWMutex
	rooms map[string]*core.Room
}

func NewRoomStore(hub *feed.Hub) core.RoomBackend {
	return &roomStore{
		Hub:   hub,
		rooms: make(map[string]*core.Room),
	}
}

func (s *roomStore) CreateRoom(ctx context.Context, room *core.Room) error {
	if room.InstructorID == "" {
		return fmt.Errorf("instructor id is required")
	}
	if room.ID == "" {
		room.ID = ulid.Make().String()
	}

	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.Version = 1

	s.mu.Lock()
	if _, exists := s.rooms[room.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("room with id %s already exists", room.ID)
	}
	s.rooms[room.ID] = room.Clone()
	s.Publish(core.RoomEvent{Type: core.EventInsert, New: *room.Clone()})
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_id":       room.ID,
		"instructor_id": room.InstructorID,
	}).Info("Room created successfully")
	return nil
}

func (s *roomStore) GetRoom(ctx context.Context, id string) (*core.Room, error) {
	log := logrus.WithField("room_id", id)

	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()

	if !ok {
		log.Warn("Room with specified ID not found")
		return nil, fmt.Errorf("room with id %s: %w", id, core.ErrNotFound)
	}

	log.Debug("Room retrieved successfully")
	return room.Clone(), nil
}

func (s *roomStore) ListRooms(ctx context.Context) ([]*core.Room, error) {
	s.mu.RLock()
	rooms := make([]*core.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})

	return rooms, nil
}

func (s *roomStore) UpdateRoom(ctx context.Context, id string, patch core.RoomPatch) (*core.Room, error) {
	log := logrus.WithField("room_id", id)

	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		log.Warn("Room with specified ID not found")
		return nil, fmt.Errorf("room with id %s: %w", id, core.ErrNotFound)
	}
	if patch.RequireInstructor != "" && patch.RequireInstructor != room.InstructorID {
		s.mu.Unlock()
		log.WithField("identity", patch.RequireInstructor).Warn("Room update rejected, not the instructor")
		return nil, fmt.Errorf("room %s: %w", id, core.ErrUnauthorized)
	}

	patch.Apply(room)
	room.Version++
	room.UpdatedAt = time.Now().UTC()
	updated := room.Clone()
	// Publishing under the lock keeps event order equal to write order.
	s.Publish(core.RoomEvent{Type: core.EventUpdate, New: *updated.Clone()})
	s.mu.Unlock()

	log.WithField("version", updated.Version).Info("Room updated successfully")
	return updated, nil
}
