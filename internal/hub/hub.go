package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/bizdocs/collabhub/internal/stats"
	"github.com/bizdocs/collabhub/internal/token"
	"github.com/bizdocs/collabhub/internal/types"
)

// Hub owns every live connection and every room. It is an explicitly
// constructed service handed to whatever accepts connections; there is
// no package-level state.
type Hub struct {
	log   *log.Logger
	stats stats.StatsProvider

	clientsLock sync.RWMutex
	clients     map[string]*Client
	userConns   map[int]map[string]*Client

	roomsLock sync.RWMutex
	rooms     map[string]*Room
}

func NewHub(logger *log.Logger, statsProvider stats.StatsProvider) (*Hub, error) {
	h := &Hub{
		log:       logger,
		stats:     statsProvider,
		clients:   make(map[string]*Client),
		userConns: make(map[int]map[string]*Client),
		rooms:     make(map[string]*Room),
	}

	statsProvider.RegisterMetric(stats.ActiveConnections)
	statsProvider.RegisterMetric(stats.ActiveRooms)
	statsProvider.RegisterMetric(stats.EventsDropped)
	statsProvider.RegisterMetric(stats.NotificationsPushed)

	return h, nil
}

// Admit registers a new live connection for the authenticated identity
// and returns the client. The caller starts the read and write pumps.
func (h *Hub) Admit(conn *websocket.Conn, identity token.Identity) *Client {
	c := &Client{
		id:       shortid.MustGenerate(),
		userId:   identity.UserId,
		userName: identity.UserName,
		conn:     conn,
		hub:      h,
		log:      h.log,
		send:     make(chan *ServerEvent, sendQueueSize),
		stop:     make(chan struct{}),
		rooms:    make(map[string]*Room),
	}

	h.clientsLock.Lock()
	h.clients[c.id] = c
	if h.userConns[c.userId] == nil {
		h.userConns[c.userId] = make(map[string]*Client)
	}
	h.userConns[c.userId][c.id] = c
	h.clientsLock.Unlock()

	h.stats.Incr(stats.ActiveConnections)
	h.log.Printf("admitted conn %s for user %d (%s)", c.id, c.userId, c.userName)

	return c
}

// Remove deregisters a connection and leaves every room it was in.
// Idempotent, and runs on abnormal disconnects as well as graceful
// closes: the read pump calls it on any read error.
func (h *Hub) Remove(connectionId string) {
	h.clientsLock.Lock()
	c, ok := h.clients[connectionId]
	if ok {
		delete(h.clients, connectionId)
		if conns, found := h.userConns[c.userId]; found {
			delete(conns, connectionId)
			if len(conns) == 0 {
				delete(h.userConns, c.userId)
			}
		}
	}
	h.clientsLock.Unlock()

	if !ok {
		return
	}

	h.LeaveAll(c)
	c.stopClient()

	h.stats.Decr(stats.ActiveConnections)
	h.log.Printf("removed conn %s for user %d", connectionId, c.userId)
}

// ConnectionsForUser snapshots the user's live connections. Used by
// the notification service for fan-out; sends to the result are
// fire-and-forget enqueues and never block on a slow connection.
func (h *Hub) ConnectionsForUser(userId int) []*Client {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	conns := make([]*Client, 0, len(h.userConns[userId]))
	for _, c := range h.userConns[userId] {
		conns = append(conns, c)
	}
	return conns
}

// PushToUser enqueues an event on every live connection of the user
// and reports how many enqueues succeeded. Zero live connections is a
// silent no-op.
func (h *Hub) PushToUser(userId int, ev *ServerEvent) int {
	delivered := 0
	for _, c := range h.ConnectionsForUser(userId) {
		if c.queueEvent(ev) {
			delivered++
			h.stats.Incr(stats.NotificationsPushed)
		}
	}
	return delivered
}

// Join adds the connection to the room, creating it on first join, and
// returns the member list the joiner should see. Joining a room the
// connection is already in is a no-op that still returns the current
// list, so duplicate joins from mount and reconnect are safe.
func (h *Hub) Join(c *Client, entityType, entityId string) []types.Presence {
	key := roomKey(entityType, entityId)

	h.roomsLock.RLock()
	r, ok := h.rooms[key]
	if ok {
		collaborators, _ := r.join(c)
		h.roomsLock.RUnlock()
		return collaborators
	}
	h.roomsLock.RUnlock()

	h.roomsLock.Lock()
	r, ok = h.rooms[key]
	if !ok {
		r = newRoom(entityType, entityId)
		h.rooms[key] = r
		h.stats.Incr(stats.ActiveRooms)
		h.log.Printf("created room %q", key)
	}
	collaborators, _ := r.join(c)
	h.roomsLock.Unlock()

	return collaborators
}

// Leave removes the connection from the room and destroys the room if
// it empties. Leaving a room the connection is not in, or a room that
// does not exist, is a silent no-op.
func (h *Hub) Leave(c *Client, entityType, entityId string) {
	key := roomKey(entityType, entityId)

	h.roomsLock.RLock()
	r, ok := h.rooms[key]
	h.roomsLock.RUnlock()
	if !ok {
		return
	}

	_, empty := r.leave(c)
	if empty {
		h.collectRoom(key, r)
	}
}

// LeaveAll removes the connection from every room it joined. Invoked
// by Remove, so a dropped socket cannot leave orphaned presence.
func (h *Hub) LeaveAll(c *Client) {
	for _, r := range c.roomList() {
		_, empty := r.leave(c)
		if empty {
			h.collectRoom(r.key, r)
		}
	}
}

// collectRoom garbage-collects a room observed empty. Membership is
// rechecked under the write lock: a join may have revived the room
// since the emptiness was observed, in which case it stays.
func (h *Hub) collectRoom(key string, r *Room) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	if current, ok := h.rooms[key]; !ok || current != r {
		return
	}
	if r.memberCount() > 0 {
		return
	}

	delete(h.rooms, key)
	h.stats.Decr(stats.ActiveRooms)
	h.log.Printf("destroyed empty room %q", key)
}

// SetEditing updates the connection's presence record and broadcasts
// editing:changed to the room. A connection that is not a member still
// gets the broadcast out (join and editing:start can race on the
// wire); an unknown room is a no-op.
func (h *Hub) SetEditing(c *Client, entityType, entityId string, isEditing bool, field string) {
	h.roomsLock.RLock()
	r, ok := h.rooms[roomKey(entityType, entityId)]
	h.roomsLock.RUnlock()
	if !ok {
		return
	}

	r.setEditing(c, isEditing, field)
}

// BroadcastChange relays an opaque change payload to every other
// member of the room as document:updated. Delivery is at-least-once
// and order-preserving per sender for currently-connected members; a
// client that was disconnected during a change must re-fetch state
// from the REST layer.
func (h *Hub) BroadcastChange(c *Client, entityType, entityId string, changes json.RawMessage) {
	h.roomsLock.RLock()
	r, ok := h.rooms[roomKey(entityType, entityId)]
	h.roomsLock.RUnlock()
	if !ok {
		return
	}

	r.relayChange(c, changes)
}

// Room looks up a live room. Exposed for tests and introspection.
func (h *Hub) Room(entityType, entityId string) (*Room, bool) {
	h.roomsLock.RLock()
	defer h.roomsLock.RUnlock()

	r, ok := h.rooms[roomKey(entityType, entityId)]
	return r, ok
}

// Shutdown force-closes every live connection. Each close unblocks the
// connection's read pump, which runs the normal Remove cleanup.
func (h *Hub) Shutdown() {
	h.clientsLock.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsLock.RUnlock()

	for _, c := range clients {
		c.close()
		c.stopClient()
	}
}
