// Package broadcast shares one document per room. The room's instructor
// publishes, every viewer subscribes and converges on the last accepted write.
package broadcast

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type Publisher struct {
	rooms core.RoomStore
	blobs core.BlobStore
	view  *View
}

// NewPublisher wires a publisher. view may be nil when nothing in the process
// reads published urls back.
func NewPublisher(rooms core.RoomStore, blobs core.BlobStore, view *View) *Publisher {
	return &Publisher{rooms: rooms, blobs: blobs, view: view}
}

// Publish uploads doc and makes it the room's current document. Only the
// room's instructor may publish. The upload and the room write run in order;
// a failed room write leaves an unreferenced blob behind.
func (p *Publisher) Publish(ctx context.Context, roomID string, identity string, doc core.Document) (string, error) {
	log := logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"identity": identity,
	})

	room, err := p.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if identity == "" || room.InstructorID != identity {
		log.Warn("Publish rejected, not the instructor")
		return "", fmt.Errorf("publish to room %s: %w", roomID, core.ErrUnauthorized)
	}

	key, err := StorageKey(roomID, doc.Name)
	if err != nil {
		return "", err
	}
	log = log.WithField("key", key)

	if err := p.blobs.Upload(ctx, key, doc.ContentType, doc.Data); err != nil {
		log.WithError(err).Error("Document upload failed")
		return "", fmt.Errorf("%w: %w", core.ErrUploadFailed, err)
	}

	url := p.blobs.PublicURL(key)
	updated, err := p.rooms.UpdateRoom(ctx, roomID, core.RoomPatch{
		CurrentDocumentURL: &url,
		RequireInstructor:  identity,
	})
	if err != nil {
		log.WithError(err).Error("Room update failed, blob left unreferenced")
		return "", fmt.Errorf("%w: %w", core.ErrPublishFailed, err)
	}

	if p.view != nil {
		p.view.Set(roomID, url, updated.Version)
	}

	log.WithFields(logrus.Fields{
		"url":     url,
		"version": updated.Version,
	}).Info("Document published")
	return url, nil
}

// StorageKey builds "<roomID>/<ulid><ext>". The ULID keeps concurrent uploads
// in one room apart; only the extension of name is kept.
func StorageKey(roomID, name string) (string, error) {
	if roomID == "" || roomID == "." || roomID == ".." || path.Base(roomID) != roomID {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}

	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	return roomID + "/" + ulid.Make().String() + ext, nil
}
