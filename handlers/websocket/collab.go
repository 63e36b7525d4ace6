package websocket

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"sync"

	"github.com/Abdull600/study-circle-voice/broadcast"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// socketRooms holds the document subscriptions of one socket.io connection.
type socketRooms struct {
	mu   sync.Mutex
	subs map[string]*broadcast.Subscription
}

func (s *socketRooms) take(roomID string, sub *broadcast.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subs[roomID]
	if !ok || (sub != nil && current != sub) {
		return false
	}
	delete(s.subs, roomID)
	return true
}

func (s *socketRooms) all() map[string]*broadcast.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make(map[string]*broadcast.Subscription, len(s.subs))
	for k, v := range s.subs {
		subs[k] = v
	}
	return subs
}

// roomSocket is the part of a socket.io socket the room handlers use.
type roomSocket interface {
	Id() socketio.SocketId
	Join(rooms ...socketio.Room)
	Leave(room socketio.Room)
	Emit(ev string, args ...any) error
}

// announceFunc tells everyone in a room its new viewer count.
type announceFunc func(roomID string, viewers int)

// SetupSocketIO serves the browser side of the document feed. A socket joins
// a room with "join-room" and then receives "document-update" for the current
// document and every change, "room-user-change" when the viewer count moves
// and "feed-disconnected" if the change feed drops.
func SetupSocketIO(subscriber *broadcast.Subscriber, presence *Presence, origins []*regexp.Regexp) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(1000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	corsOrigins := make([]any, 0, len(origins))
	for _, o := range origins {
		corsOrigins = append(corsOrigins, o)
	}
	opts.SetCors(&types.Cors{
		Origin:      corsOrigins,
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	announce := func(roomID string, viewers int) {
		_ = srv.In(socketio.Room(roomID)).Emit("room-user-change", map[string]any{"roomId": roomID, "viewers": viewers})
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := socket.Id()
		rooms := &socketRooms{subs: make(map[string]*broadcast.Subscription)}
		_ = srv.To(socketio.Room(me)).Emit("init-room")
		logrus.WithField("socket_id", me).Debug("Socket connected")

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-room", func(datas ...any) {
			ack, args := splitAck(datas)
			roomID, _ := firstString(args)
			if roomID == "" {
				ack(map[string]any{"status": "error", "error": "room id is required"})
				return
			}
			joinRoom(socket, subscriber, presence, rooms, roomID, announce, ack)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("leave-room", func(datas ...any) {
			ack, args := splitAck(datas)
			roomID, _ := firstString(args)
			if !leaveRoom(socket, presence, rooms, roomID, nil, announce) {
				ack(map[string]any{"status": "error", "error": "not in room"})
				return
			}
			ack(map[string]any{"status": "ok"})
		})

		socket.On("disconnecting", func(datas ...any) {
			leaveAll(socket, presence, rooms, announce)
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

func joinRoom(socket roomSocket, subscriber *broadcast.Subscriber, presence *Presence, rooms *socketRooms, roomID string, announce announceFunc, ack func(map[string]any)) {
	me := socket.Id()
	log := logrus.WithFields(logrus.Fields{
		"socket_id": me,
		"room_id":   roomID,
	})

	rooms.mu.Lock()
	if _, joined := rooms.subs[roomID]; joined {
		rooms.mu.Unlock()
		ack(map[string]any{"status": "ok", "viewers": presence.Count(roomID)})
		return
	}

	sub, err := subscriber.Subscribe(context.Background(), roomID, func(url string) {
		_ = socket.Emit("document-update", map[string]any{"roomId": roomID, "url": url})
	})
	if err != nil {
		rooms.mu.Unlock()
		message := "failed to join room"
		switch {
		case errors.Is(err, core.ErrNotFound):
			message = "room not found"
		case errors.Is(err, core.ErrFeedDisconnected):
			message = "feed unavailable"
		}
		log.WithError(err).Warn("Socket failed to join room")
		ack(map[string]any{"status": "error", "error": message})
		return
	}
	rooms.subs[roomID] = sub
	rooms.mu.Unlock()

	socket.Join(socketio.Room(roomID))
	viewers := presence.Join(roomID, string(me))
	log.WithField("viewers", viewers).Info("Socket joined room")
	announce(roomID, viewers)

	go func() {
		<-sub.Disconnected()
		if sub.Err() == nil {
			return
		}
		log.WithError(sub.Err()).Warn("Document feed disconnected")
		if leaveRoom(socket, presence, rooms, roomID, sub, announce) {
			_ = socket.Emit("feed-disconnected", map[string]any{"roomId": roomID})
		}
	}()

	ack(map[string]any{"status": "ok", "viewers": viewers})
}

// leaveRoom drops the socket's subscription to roomID. With sub set it only
// acts if that exact subscription is still current.
func leaveRoom(socket roomSocket, presence *Presence, rooms *socketRooms, roomID string, sub *broadcast.Subscription, announce announceFunc) bool {
	if roomID == "" {
		return false
	}

	current := sub
	if current == nil {
		current = rooms.all()[roomID]
	}
	if current == nil || !rooms.take(roomID, current) {
		return false
	}
	current.Unsubscribe()
	socket.Leave(socketio.Room(roomID))

	viewers := presence.Leave(roomID, string(socket.Id()))
	logrus.WithFields(logrus.Fields{
		"socket_id": socket.Id(),
		"room_id":   roomID,
		"viewers":   viewers,
	}).Info("Socket left room")
	announce(roomID, viewers)
	return true
}

func leaveAll(socket roomSocket, presence *Presence, rooms *socketRooms, announce announceFunc) {
	for _, sub := range rooms.all() {
		leaveRoom(socket, presence, rooms, sub.RoomID(), sub, announce)
	}
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// splitAck separates a trailing acknowledgement callback from the event
// arguments. Clients pick the callback signature, so it is called through
// reflection with the payload in the first parameter that can take it.
func splitAck(datas []any) (func(payload map[string]any), []any) {
	noop := func(map[string]any) {}
	if len(datas) == 0 {
		return noop, datas
	}

	fn := reflect.ValueOf(datas[len(datas)-1])
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return noop, datas
	}

	return func(payload map[string]any) {
		typ := fn.Type()
		in := make([]reflect.Value, typ.NumIn())
		placed := false
		for i := range in {
			param := typ.In(i)
			switch {
			case placed:
				in[i] = reflect.Zero(param)
			case reflect.TypeOf(payload).AssignableTo(param):
				in[i] = reflect.ValueOf(payload)
				placed = true
			case param.Kind() == reflect.Slice && param.Elem().Kind() == reflect.Interface:
				in[i] = reflect.ValueOf([]any{payload}).Convert(param)
				placed = true
			default:
				in[i] = reflect.Zero(param)
			}
		}
		if typ.IsVariadic() {
			fn.CallSlice(in)
			return
		}
		fn.Call(in)
	}, datas[:len(datas)-1]
}
