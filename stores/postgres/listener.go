package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

const notifyChannel = "room_changes"

// notification mirrors the payload built by notify_room_change().
type notification struct {
	Type string `json:"type"`
	New  struct {
		ID                 string    `json:"id"`
		Name               string    `json:"name"`
		InstructorID       string    `json:"instructor_id"`
		InstructorName     string    `json:"instructor_name"`
		CurrentDocumentURL *string   `json:"current_document_url"`
		Version            int64     `json:"version"`
		CreatedAt          time.Time `json:"created_at"`
		UpdatedAt          time.Time `json:"updated_at"`
	} `json:"new"`
}

func decodeNotification(payload string) (core.RoomEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return core.RoomEvent{}, fmt.Errorf("failed to decode room notification: %w", err)
	}
	if n.New.ID == "" {
		return core.RoomEvent{}, fmt.Errorf("room notification without id")
	}

	return core.RoomEvent{
		Type: core.EventType(strings.ToUpper(n.Type)),
		New: core.Room{
			ID:                 n.New.ID,
			Name:               n.New.Name,
			InstructorID:       n.New.InstructorID,
			InstructorName:     n.New.InstructorName,
			CurrentDocumentURL: n.New.CurrentDocumentURL,
			Version:            n.New.Version,
			CreatedAt:          n.New.CreatedAt,
			UpdatedAt:          n.New.UpdatedAt,
		},
	}, nil
}

// Listener forwards postgres notifications on room_changes into a Hub.
type Listener struct {
	url string
	hub *feed.Hub
}

// NewListener suspends hub until the first LISTEN succeeds.
func NewListener(url string, hub *feed.Hub) *Listener {
	hub.Suspend()
	return &Listener{url: url, hub: hub}
}

// Run listens until ctx is cancelled. While the connection is down the hub is
// suspended: current subscribers are disconnected and new ones refused. Run
// reconnects after retryDelay.
func (l *Listener) Run(ctx context.Context, retryDelay time.Duration) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			l.hub.Suspend()
			return
		}

		logrus.WithError(err).Warn("Room change listener lost, disconnecting subscribers")
		l.hub.Suspend()

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}
	l.hub.Resume()
	logrus.WithField("channel", notifyChannel).Info("Listening for room changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		ev, err := decodeNotification(n.Payload)
		if err != nil {
			logrus.WithError(err).Warn("Dropping malformed room notification")
			continue
		}
		l.hub.Publish(ev)
	}
}
