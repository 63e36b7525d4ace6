package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/Abdull600/study-circle-voice/broadcast"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

const (
	FrameDocument     = "document"
	FrameDisconnected = "disconnected"
)

// Frame is what the document feed endpoint writes.
type Frame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	URL    string `json:"url,omitempty"`
}

func newUpgrader(origins []*regexp.Regexp) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return OriginAllowed(origins, r.Header.Get("Origin"))
		},
	}
}

// wsConn owns one upgraded connection. Frames are queued on send and written
// by writePump, the only writer.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	closing chan struct{}
	done    chan struct{}

	closingOnce sync.Once
	doneOnce    sync.Once
}

func newConn() *wsConn {
	return &wsConn{
		id:      uuid.NewString(),
		send:    make(chan []byte, sendBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A reader that falls behind is disconnected.
func (c *wsConn) enqueue(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode feed frame")
		return
	}

	select {
	case <-c.done:
	case c.send <- frame:
	default:
		logrus.WithField("conn_id", c.id).Warn("Feed reader too slow, closing connection")
		c.shutdown()
	}
}

// shutdown flushes queued frames and then closes the connection.
func (c *wsConn) shutdown() {
	c.closingOnce.Do(func() { close(c.closing) })
}

func (c *wsConn) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.finish()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			for {
				select {
				case frame := <-c.send:
					if err := c.write(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

// readPump only serves control frames; the feed ignores anything the client
// sends.
func (c *wsConn) readPump() {
	defer c.finish()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("conn_id", c.id).Warn("Unexpected close error")
			}
			return
		}
	}
}

// HandleDocumentFeed streams the room's shared document url to one viewer:
// the current url right after the upgrade, then every change. When the change
// feed drops, a disconnected frame is sent and the connection closed so the
// viewer can reconnect.
func HandleDocumentFeed(subscriber *broadcast.Subscriber, presence *Presence, origins []*regexp.Regexp) http.HandlerFunc {
	upgrader := newUpgrader(origins)

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		c := newConn()
		log := logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"conn_id": c.id,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := subscriber.Subscribe(ctx, roomID, func(url string) {
			c.enqueue(Frame{Type: FrameDocument, RoomID: roomID, URL: url})
		})
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.Error(w, "Room not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, core.ErrFeedDisconnected) {
				log.Warn("Change feed unavailable, refusing viewer")
				http.Error(w, "Change feed unavailable", http.StatusServiceUnavailable)
				return
			}
			log.WithError(err).Error("Failed to subscribe to room")
			http.Error(w, "Failed to subscribe to room", http.StatusInternalServerError)
			return
		}
		defer sub.Unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("Websocket upgrade failed")
			return
		}
		c.conn = conn

		log.WithField("viewers", presence.Join(roomID, c.id)).Info("Viewer joined document feed")
		defer func() {
			log.WithField("viewers", presence.Leave(roomID, c.id)).Info("Viewer left document feed")
		}()

		go c.readPump()
		go func() {
			select {
			case <-sub.Disconnected():
				if sub.Err() != nil {
					log.WithError(sub.Err()).Warn("Document feed disconnected")
					c.enqueue(Frame{Type: FrameDisconnected, RoomID: roomID})
					c.shutdown()
				}
			case <-c.done:
			}
		}()

		c.writePump()
	}
}

// HandleRoomEvents relays raw change events of one room. It is the transport
// behind the remote change feed in the client package.
func HandleRoomEvents(rooms broadcast.RoomReader, changes core.ChangeFeed, presence *Presence, origins []*regexp.Regexp) http.HandlerFunc {
	upgrader := newUpgrader(origins)

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		c := newConn()
		log := logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"conn_id": c.id,
		})

		if _, err := rooms.GetRoom(r.Context(), roomID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.Error(w, "Room not found", http.StatusNotFound)
				return
			}
			log.WithError(err).Error("Failed to read room")
			http.Error(w, "Failed to read room", http.StatusInternalServerError)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handle, err := changes.SubscribeChanges(ctx, roomID, func(ev core.RoomEvent) {
			c.enqueue(ev)
		})
		if err != nil {
			if errors.Is(err, core.ErrFeedDisconnected) {
				log.Warn("Change feed unavailable, refusing relay")
				http.Error(w, "Change feed unavailable", http.StatusServiceUnavailable)
				return
			}
			log.WithError(err).Error("Failed to subscribe to room changes")
			http.Error(w, "Failed to subscribe to room changes", http.StatusInternalServerError)
			return
		}
		defer handle.Close()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("Websocket upgrade failed")
			return
		}
		c.conn = conn

		presence.Join(roomID, c.id)
		defer presence.Leave(roomID, c.id)
		log.Debug("Event relay opened")

		go c.readPump()
		go func() {
			select {
			case <-handle.Done():
				if handle.Err() != nil {
					log.WithError(handle.Err()).Warn("Room change feed disconnected")
					c.shutdown()
				}
			case <-c.done:
			}
		}()

		c.writePump()
	}
}
