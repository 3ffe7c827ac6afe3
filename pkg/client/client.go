// Package client is a thin, re-connecting consumer of the hub: it
// dials the websocket endpoint with a fresh connection token, re-joins
// the last room after a dropped connection, and retries an expired
// token a bounded number of times before surfacing a hard auth
// failure.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bizdocs/collabhub/internal/hub"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultMaxAuthRetries = 3
	initialBackoff        = 250 * time.Millisecond
	maxBackoff            = 10 * time.Second
)

// ErrAuthFailed is returned when the handshake keeps failing after the
// bounded number of token refreshes, or the token is rejected as
// invalid outright. The user has to re-login; the client never retries
// indefinitely.
var ErrAuthFailed = errors.New("websocket authentication failed")

// TokenFunc obtains a fresh connection token, typically by calling the
// issue-connection-token endpoint with the session credential.
type TokenFunc func(ctx context.Context) (string, error)

// EventHandler receives every server event. Data is the raw payload
// for the named event.
type EventHandler func(event string, data json.RawMessage)

type Options struct {
	// URL of the websocket endpoint, e.g. "ws://host:8000/ws".
	URL            string
	Token          TokenFunc
	OnEvent        EventHandler
	Logger         *log.Logger
	MaxAuthRetries int
}

type Client struct {
	url            string
	tokenFunc      TokenFunc
	onEvent        EventHandler
	log            *log.Logger
	maxAuthRetries int

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	lastRoom *hub.RoomRef
	inflight *refreshCall

	stop     chan struct{}
	stopOnce sync.Once
}

// refreshCall is the shared in-flight token refresh. Concurrent
// callers await the same result instead of issuing parallel refreshes.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if opts.Token == nil {
		return nil, fmt.Errorf("token func cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxAuthRetries <= 0 {
		opts.MaxAuthRetries = defaultMaxAuthRetries
	}

	return &Client{
		url:            opts.URL,
		tokenFunc:      opts.Token,
		onEvent:        opts.OnEvent,
		log:            opts.Logger,
		maxAuthRetries: opts.MaxAuthRetries,
		stop:           make(chan struct{}),
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the connection alive until ctx is done or
// Close is called, reconnecting with backoff on transport failures.
// It returns ErrAuthFailed when the handshake cannot be authenticated
// within the retry budget.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		default:
		}

		conn, err := c.handshake(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				c.setState(Disconnected)
				return err
			}

			c.log.Printf("connect: %v, retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.stop:
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = initialBackoff
		c.setConn(conn)
		c.setState(Connected)

		// Reconnection is a fresh join, not a resume: the server forgot
		// this client at disconnect, so re-issue the join for whatever
		// room was last joined.
		c.rejoinLastRoom()

		c.readLoop(conn)

		c.setConn(nil)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		default:
			c.setState(Reconnecting)
		}
	}
}

// handshake obtains a token and dials, refreshing an expired token up
// to maxAuthRetries times. Invalid tokens fail immediately.
func (c *Client) handshake(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 0; attempt < c.maxAuthRetries; attempt++ {
		connToken, err := c.refreshToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url+"?token="+connToken, nil)
		if err == nil {
			return conn, nil
		}

		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			return nil, fmt.Errorf("dial: %w", err)
		}

		code := handshakeErrorCode(resp)
		resp.Body.Close()

		switch code {
		case "token_expired":
			c.log.Printf("handshake: token expired, refreshing (attempt %d/%d)", attempt+1, c.maxAuthRetries)
			continue
		default:
			return nil, fmt.Errorf("%w: %s", ErrAuthFailed, code)
		}
	}

	return nil, fmt.Errorf("%w: token expired %d times", ErrAuthFailed, c.maxAuthRetries)
}

func handshakeErrorCode(resp *http.Response) string {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "unauthorized"
	}
	if body.Code == "" {
		return "unauthorized"
	}
	return body.Code
}

// refreshToken deduplicates concurrent refreshes: whoever arrives
// while a refresh is in flight awaits that refresh's result.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	call.token, call.err = c.tokenFunc(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Printf("ws read: %v", err)
			conn.Close()
			return
		}

		var ev struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Printf("parse event: %v", err)
			continue
		}

		if c.onEvent != nil {
			c.onEvent(ev.Event, ev.Data)
		}
	}
}

// JoinCollaboration joins the room for the given document and records
// it as the room to re-join after a reconnect. The server treats
// duplicate joins as no-ops, so calling this on mount and again on
// every connect transition is safe.
func (c *Client) JoinCollaboration(entityType, entityId string) error {
	c.mu.Lock()
	c.lastRoom = &hub.RoomRef{EntityType: entityType, EntityId: entityId}
	c.mu.Unlock()

	return c.sendEvent(hub.EventJoinCollaboration, hub.RoomRef{EntityType: entityType, EntityId: entityId})
}

func (c *Client) LeaveCollaboration(entityType, entityId string) error {
	c.mu.Lock()
	if c.lastRoom != nil && c.lastRoom.EntityType == entityType && c.lastRoom.EntityId == entityId {
		c.lastRoom = nil
	}
	c.mu.Unlock()

	return c.sendEvent(hub.EventLeaveCollaboration, hub.RoomRef{EntityType: entityType, EntityId: entityId})
}

func (c *Client) StartEditing(entityType, entityId, field string) error {
	return c.sendEvent(hub.EventEditingStart, hub.EditingStart{EntityType: entityType, EntityId: entityId, Field: field})
}

func (c *Client) StopEditing(entityType, entityId string) error {
	return c.sendEvent(hub.EventEditingStop, hub.RoomRef{EntityType: entityType, EntityId: entityId})
}

func (c *Client) SendChange(entityType, entityId string, changes json.RawMessage) error {
	return c.sendEvent(hub.EventDocumentChange, hub.DocumentChange{EntityType: entityType, EntityId: entityId, Changes: changes})
}

func (c *Client) rejoinLastRoom() {
	c.mu.Lock()
	room := c.lastRoom
	c.mu.Unlock()

	if room == nil {
		return
	}

	if err := c.sendEvent(hub.EventJoinCollaboration, *room); err != nil {
		c.log.Printf("rejoin room: %v", err)
	}
}

func (c *Client) sendEvent(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	return conn.WriteJSON(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state != state {
		c.log.Printf("state: %s -> %s", c.state, state)
		c.state = state
	}
	c.mu.Unlock()
}

func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}
