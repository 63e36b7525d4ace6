package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const roomColumns = "id, name, instructor_id, instructor_name, current_document_url, version, created_at, updated_at"

type roomStore struct {
	*feed.Hub

	db *sql.DB
	// writeMu orders writes so feed events leave in commit order.
	writeMu sync.Mutex
}

// NewRoomStore opens dataSourceName and creates the schema. Change events are
// fanned out through hub, so the feed only covers writes made by this process.
func NewRoomStore(dataSourceName string, hub *feed.Hub) (*roomStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	roomsTable := `CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		instructor_id TEXT NOT NULL,
		instructor_name TEXT,
		current_document_url TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err = db.Exec(roomsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rooms table: %w", err)
	}

	return &roomStore{Hub: hub, db: db}, nil
}

func (s *roomStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*core.Room, error) {
	var (
		room                 core.Room
		instructorName, url  sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&room.ID, &room.Name, &room.InstructorID, &instructorName, &url, &room.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	room.InstructorName = instructorName.String
	if url.Valid {
		u := url.String
		room.CurrentDocumentURL = &u
	}
	room.CreatedAt = time.UnixMilli(createdAt).UTC()
	room.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &room, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (s *roomStore) CreateRoom(ctx context.Context, room *core.Room) error {
	if room.InstructorID == "" {
		return fmt.Errorf("instructor id is required")
	}
	if room.ID == "" {
		room.ID = ulid.Make().String()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	room.CreatedAt = now
	room.UpdatedAt = now
	room.Version = 1

	log := logrus.WithFields(logrus.Fields{
		"room_id":       room.ID,
		"instructor_id": room.InstructorID,
	})

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms ("+roomColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		room.ID, room.Name, room.InstructorID, room.InstructorName, nullable(room.CurrentDocumentURL),
		room.Version, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to create room")
		return err
	}

	log.Info("Room created successfully")
	s.Publish(core.RoomEvent{Type: core.EventInsert, New: *room.Clone()})
	return nil
}

func (s *roomStore) GetRoom(ctx context.Context, id string) (*core.Room, error) {
	log := logrus.WithField("room_id", id)
	log.Debug("Retrieving room by ID")

	room, err := scanRoom(s.db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Room with specified ID not found")
			return nil, fmt.Errorf("room with id %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve room")
		return nil, err
	}
	return room, nil
}

func (s *roomStore) ListRooms(ctx context.Context) ([]*core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+roomColumns+" FROM rooms ORDER BY updated_at DESC, id ASC")
	if err != nil {
		logrus.WithError(err).Error("Failed to list rooms")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close room rows")
		}
	}()

	rooms := make([]*core.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *roomStore) UpdateRoom(ctx context.Context, id string, patch core.RoomPatch) (*core.Room, error) {
	log := logrus.WithField("room_id", id)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC().UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`UPDATE rooms SET
			name = COALESCE(?, name),
			current_document_url = COALESCE(?, current_document_url),
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND (? = '' OR instructor_id = ?)
		RETURNING `+roomColumns,
		nullable(patch.Name), nullable(patch.CurrentDocumentURL), now, id, patch.RequireInstructor, patch.RequireInstructor)

	room, err := scanRoom(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.WithError(err).Error("Failed to update room")
			return nil, err
		}
		// Nothing matched: either the room is gone or the guard failed.
		if _, gerr := s.GetRoom(ctx, id); gerr != nil {
			return nil, gerr
		}
		log.WithField("identity", patch.RequireInstructor).Warn("Room update rejected, not the instructor")
		return nil, fmt.Errorf("room %s: %w", id, core.ErrUnauthorized)
	}

	log.WithField("version", room.Version).Info("Room updated successfully")
	s.Publish(core.RoomEvent{Type: core.EventUpdate, New: *room.Clone()})
	return room, nil
}
