// Package client talks to a running study circles server. It implements the
// room reader and change feed used by broadcast.Subscriber so a remote viewer
// runs the same subscription logic as the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/handlers/api/rooms"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type (
	Client struct {
		baseURL    *url.URL
		token      string
		httpClient *http.Client
		dialer     *websocket.Dialer
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
		core.Room
		IsInstructor bool `json:"isInstructor"`
		Participants int  `json:"participants"`
	}

	apiError struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
)

func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}

	return &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
	}, nil
}

func (c *Client) endpoint(elems ...string) *url.URL {
	escaped := make([]string, len(elems))
	for i, e := range elems {
		escaped[i] = url.PathEscape(e)
	}
	return c.baseURL.JoinPath(escaped...)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError turns an error response back into the service's error values.
// The error code wins; the status code covers responses that carry none.
func statusError(resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	message := body.Error
	if message == "" {
		message = strings.TrimSpace(resp.Status)
	}

	switch body.Code {
	case rooms.CodeUnauthorized:
		return fmt.Errorf("%s: %w", message, core.ErrUnauthorized)
	case rooms.CodeNotFound:
		return fmt.Errorf("%s: %w", message, core.ErrNotFound)
	case rooms.CodeUploadFailed:
		return fmt.Errorf("%s: %w", message, core.ErrUploadFailed)
	case rooms.CodePublishFailed:
		return fmt.Errorf("%s: %w", message, core.ErrPublishFailed)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", message, core.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", message, core.ErrUnauthorized)
	case http.StatusBadGateway:
		return fmt.Errorf("%s: %w", message, core.ErrUploadFailed)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %w", message, core.ErrFeedDisconnected)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, message)
}

func (c *Client) get(ctx context.Context, u *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) Me(ctx context.Context) (core.Identity, error) {
	var identity core.Identity
	err := c.get(ctx, c.endpoint("api", "me"), &identity)
	return identity, err
}

func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	var list []RoomSummary
	if err := c.get(ctx, c.endpoint("api", "rooms"), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateRoom creates a room taught by the token's identity. An empty name
// lets the server pick one.
func (c *Client) CreateRoom(ctx context.Context, name string) (*RoomDetail, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "rooms").String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var room RoomDetail
	if err := c.do(req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) RoomDetail(ctx context.Context, id string) (*RoomDetail, error) {
	var room RoomDetail
	if err := c.get(ctx, c.endpoint("api", "rooms", id), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoom makes Client a broadcast.RoomReader.
func (c *Client) GetRoom(ctx context.Context, id string) (*core.Room, error) {
	detail, err := c.RoomDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return &detail.Room, nil
}

// PublishDocument uploads doc as the room's shared document and returns its
// public url.
func (c *Client) PublishDocument(ctx context.Context, roomID string, doc core.Document) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := doc.Name
	if name == "" {
		name = "document"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "rooms", roomID, "document").String(), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// SubscribeChanges reads the room's change events over a websocket. The
// handle reports ErrFeedDisconnected when the connection drops; it does not
// reconnect.
func (c *Client) SubscribeChanges(ctx context.Context, roomID string, callback func(core.RoomEvent)) (core.FeedHandle, error) {
	u := c.endpoint("api", "rooms", roomID, "events")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("dial room events: %w", err)
	}

	h := &eventHandle{
		conn: conn,
		done: make(chan struct{}),
	}
	go h.readLoop(roomID, callback)
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Close()
		case <-h.done:
		}
	}()
	return h, nil
}

type eventHandle struct {
	conn *websocket.Conn
	done chan struct{}

	// mu is held while a callback runs so Close waits for it.
	mu     sync.Mutex
	closed bool
	err    error
	once   sync.Once
}

func (h *eventHandle) readLoop(roomID string, callback func(core.RoomEvent)) {
	for {
		var ev core.RoomEvent
		if err := h.conn.ReadJSON(&ev); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				logrus.WithError(err).WithField("room_id", roomID).Warn("Skipping malformed room event")
				continue
			}
			h.finish(core.ErrFeedDisconnected)
			return
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return
		}
		callback(ev)
		h.mu.Unlock()
	}
}

func (h *eventHandle) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		if !h.closed {
			h.closed = true
			h.err = err
		}
		h.mu.Unlock()
		_ = h.conn.Close()
		close(h.done)
	})
}

func (h *eventHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.finish(nil)
	return nil
}

func (h *eventHandle) Done() <-chan struct{} {
	return h.done
}

func (h *eventHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
