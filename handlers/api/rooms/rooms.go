package rooms

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Abdull600/study-circle-voice/broadcast"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateRoomRequest struct {
		Name string `json:"name"`
	}

	RoomSummary struct {
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		InstructorName string    `json:"instructorName"`
		Participants   int       `json:"participants"`
		IsLive         bool      `json:"isLive"`
		HasDocument    bool      `json:"hasDocument"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}

	RoomDetail struct {
		*core.Room
		IsInstructor bool `json:"isInstructor"`
		Participants int  `json:"participants"`
	}

	PublishResponse struct {
		URL string `json:"url"`
	}

	// Counter reports how many viewers hold an open feed for a room.
	Counter interface {
		Count(roomID string) int
	}
)

func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, r, core.ErrUnauthorized)
			return
		}
		render.JSON(w, r, identity)
	}
}

// HandleListRooms lists every room, busiest first.
func HandleListRooms(store core.RoomStore, counter Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := store.ListRooms(r.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to list rooms")
			writeError(w, r, err)
			return
		}

		list := make([]RoomSummary, 0, len(rooms))
		for _, room := range rooms {
			participants := counter.Count(room.ID)
			list = append(list, RoomSummary{
				ID:             room.ID,
				Name:           room.Name,
				InstructorName: room.InstructorName,
				Participants:   participants,
				IsLive:         participants > 0,
				HasDocument:    room.CurrentDocumentURL != nil,
				UpdatedAt:      room.UpdatedAt,
			})
		}

		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Participants != list[j].Participants {
				return list[i].Participants > list[j].Participants
			}
			if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
				return list[i].UpdatedAt.After(list[j].UpdatedAt)
			}
			return list[i].ID < list[j].ID
		})

		render.JSON(w, r, list)
	}
}

// HandleCreateRoom creates a room taught by the caller.
func HandleCreateRoom(store core.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, r, core.ErrUnauthorized)
			return
		}

		var req CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			logrus.WithField("error", err).Error("Failed to decode request")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = identity.Label() + "'s Study Room"
		}

		room := &core.Room{
			Name:           name,
			InstructorID:   identity.ID,
			InstructorName: identity.Label(),
		}
		if err := store.CreateRoom(r.Context(), room); err != nil {
			logrus.WithError(err).Error("Failed to create room")
			writeError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, RoomDetail{Room: room, IsInstructor: true})
	}
}

func HandleGetRoom(store core.RoomStore, counter Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		identity, _ := middleware.IdentityFrom(r.Context())

		room, err := store.GetRoom(r.Context(), roomID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		render.JSON(w, r, RoomDetail{
			Room:         room,
			IsInstructor: identity.ID != "" && room.InstructorID == identity.ID,
			Participants: counter.Count(room.ID),
		})
	}
}

// HandlePublishDocument accepts the document either as the "file" field of a
// multipart form or as the raw request body. A raw body takes its name from
// the name query parameter.
func HandlePublishDocument(publisher *broadcast.Publisher, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		identity, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, r, core.ErrUnauthorized)
			return
		}
		log := logrus.WithFields(logrus.Fields{
			"room_id":  roomID,
			"identity": identity.ID,
		})

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		doc, err := readDocument(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.WithField("limit", maxBytes).Warn("Document too large")
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "Document too large"})
				return
			}
			log.WithError(err).Warn("Failed to read document")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		url, err := publisher.Publish(r.Context(), roomID, identity.ID, doc)
		if err != nil {
			log.WithError(err).Error("Failed to publish document")
			writeError(w, r, err)
			return
		}

		render.JSON(w, r, PublishResponse{URL: url})
	}
}

func readDocument(r *http.Request) (core.Document, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return core.Document{}, err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return core.Document{}, err
		}
		if len(data) == 0 {
			return core.Document{}, errors.New("document is empty")
		}
		return core.Document{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return core.Document{}, err
	}
	if len(data) == 0 {
		return core.Document{}, errors.New("document is empty")
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return core.Document{
		Name:        r.URL.Query().Get("name"),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Error codes let remote callers recover the service's error values.
const (
	CodeUnauthorized  = "unauthorized"
	CodeNotFound      = "not_found"
	CodeUploadFailed  = "upload_failed"
	CodePublishFailed = "publish_failed"
	CodeInternal      = "internal"
)

// writeError maps the service errors to status codes. A publish the store's
// guard refused carries both ErrPublishFailed and ErrUnauthorized and is
// reported as forbidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	code := CodeInternal

	switch {
	case errors.Is(err, core.ErrUnauthorized):
		status, message, code = http.StatusForbidden, "Only the instructor can do this", CodeUnauthorized
	case errors.Is(err, core.ErrNotFound):
		status, message, code = http.StatusNotFound, "Room not found", CodeNotFound
	case errors.Is(err, core.ErrUploadFailed):
		status, message, code = http.StatusBadGateway, "Failed to upload document", CodeUploadFailed
	case errors.Is(err, core.ErrPublishFailed):
		status, message, code = http.StatusInternalServerError, "Failed to publish document", CodePublishFailed
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message, "code": code})
}
