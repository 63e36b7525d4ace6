package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// roomStore keeps rooms in postgres. Its change feed is filled by a Listener
// from the rooms_notify_change trigger, so it sees writes of every process
// sharing the database.
type roomStore struct {
	*feed.Hub

	db *sqlx.DB
}

func NewRoomStore(db *sqlx.DB, hub *feed.Hub) *roomStore {
	return &roomStore{Hub: hub, db: db}
}

func (s *roomStore) CreateRoom(ctx context.Context, room *core.Room) error {
	if room.InstructorID == "" {
		return fmt.Errorf("instructor id is required")
	}
	if room.ID == "" {
		room.ID = ulid.Make().String()
	}

	log := logrus.WithFields(logrus.Fields{
		"room_id":       room.ID,
		"instructor_id": room.InstructorID,
	})

	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO rooms (id, name, instructor_id, instructor_name, current_document_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING version, created_at, updated_at`,
		room.ID, room.Name, room.InstructorID, room.InstructorName, room.CurrentDocumentURL,
	).Scan(&room.Version, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to create room")
		return fmt.Errorf("failed to create room: %w", err)
	}

	log.Info("Room created successfully")
	return nil
}

func (s *roomStore) GetRoom(ctx context.Context, id string) (*core.Room, error) {
	log := logrus.WithField("room_id", id)

	var room core.Room
	err := s.db.GetContext(ctx, &room, "SELECT * FROM rooms WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Room with specified ID not found")
			return nil, fmt.Errorf("room with id %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve room")
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

func (s *roomStore) ListRooms(ctx context.Context) ([]*core.Room, error) {
	rooms := make([]*core.Room, 0)
	if err := s.db.SelectContext(ctx, &rooms, "SELECT * FROM rooms ORDER BY updated_at DESC, id ASC"); err != nil {
		logrus.WithError(err).Error("Failed to list rooms")
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	return rooms, nil
}

func (s *roomStore) UpdateRoom(ctx context.Context, id string, patch core.RoomPatch) (*core.Room, error) {
	log := logrus.WithField("room_id", id)

	var room core.Room
	err := s.db.GetContext(ctx, &room,
		`UPDATE rooms SET
			name = COALESCE($1, name),
			current_document_url = COALESCE($2, current_document_url),
			version = version + 1,
			updated_at = now()
		WHERE id = $3 AND ($4::text = '' OR instructor_id = $4::text)
		RETURNING *`,
		patch.Name, patch.CurrentDocumentURL, id, patch.RequireInstructor)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.WithError(err).Error("Failed to update room")
			return nil, fmt.Errorf("failed to update room: %w", err)
		}
		if _, gerr := s.GetRoom(ctx, id); gerr != nil {
			return nil, gerr
		}
		log.WithField("identity", patch.RequireInstructor).Warn("Room update rejected, not the instructor")
		return nil, fmt.Errorf("room %s: %w", id, core.ErrUnauthorized)
	}

	log.WithField("version", room.Version).Info("Room updated successfully")
	return &room, nil
}
