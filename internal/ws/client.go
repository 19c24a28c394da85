package ws

import (
	"encoding/json"
	"sync"

	"github.com/serroba/collab-core/internal/presence"
	"golang.org/x/time/rate"
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Client represents one connected user. A single connection can be in at
// most one project at a time but may hold several files open within it.
type Client struct {
	ID   string
	User presence.User

	conn    Conn
	cursors *rate.Limiter

	// writeMu serializes writes to the connection; the underlying
	// websocket does not support concurrent writers.
	writeMu sync.Mutex

	mu        sync.Mutex
	projectID string
	files     map[string]struct{}
	queue     []Message
	flushing  bool
}

// NewClient creates a new client wrapper. A nil limiter disables cursor
// throttling.
func NewClient(id string, user presence.User, conn Conn, cursors *rate.Limiter) *Client {
	return &Client{
		ID:      id,
		User:    user,
		conn:    conn,
		cursors: cursors,
		files:   make(map[string]struct{}),
	}
}

// Send sends a message to the client.
func (c *Client) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(msg)
}

// Enqueue hands a message to the client's send queue. Messages enqueued
// from one goroutine are delivered in order; the caller never blocks on a
// slow connection.
func (c *Client) Enqueue(msg Message) {
	c.mu.Lock()
	c.queue = append(c.queue, msg)

	if !c.flushing {
		c.flushing = true

		go c.drainQueue()
	}
	c.mu.Unlock()
}

func (c *Client) drainQueue() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()

			return
		}

		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		_ = c.Send(msg)
	}
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Receive reads and decodes one message from the client.
func (c *Client) Receive() (Message, error) {
	var raw struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := c.conn.ReadJSON(&raw); err != nil {
		return Message{}, err
	}

	msg := Message{Type: raw.Type}

	decode := func(v any) error {
		if len(raw.Payload) == 0 {
			return nil
		}

		return json.Unmarshal(raw.Payload, v)
	}

	var err error

	switch raw.Type {
	case MessageTypeJoinProject:
		var p JoinProjectPayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeLeaveProject:
		var p LeaveProjectPayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeOpenFile:
		var p OpenFilePayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeCloseFile:
		var p CloseFilePayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeOperation:
		var p OperationPayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeCursorMove:
		var p CursorMovePayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeSelectionChange:
		var p SelectionChangePayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeLockAcquire:
		var p LockAcquirePayload
		err = decode(&p)
		msg.Payload = p
	case MessageTypeLockRelease:
		var p LockReleasePayload
		err = decode(&p)
		msg.Payload = p
	default:
		// Server-to-client or unknown types keep the raw payload; the
		// handler rejects them with invalid_message.
		msg.Payload = raw.Payload
	}

	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

// AllowCursor reports whether another cursor/selection update may be
// processed now under the client's rate limit.
func (c *Client) AllowCursor() bool {
	if c.cursors == nil {
		return true
	}

	return c.cursors.Allow()
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ProjectID returns the project the client has joined, or "".
func (c *Client) ProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.projectID
}

// SetProjectID records the project the client has joined.
func (c *Client) SetProjectID(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.projectID = projectID
}

// TrackFile records that the client has a file open.
func (c *Client) TrackFile(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.files[fileID] = struct{}{}
}

// UntrackFile records that the client closed a file.
func (c *Client) UntrackFile(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.files, fileID)
}

// OpenFiles returns the files the client currently has open.
func (c *Client) OpenFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]string, 0, len(c.files))
	for fileID := range c.files {
		files = append(files, fileID)
	}

	return files
}
