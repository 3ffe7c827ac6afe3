package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bizdocs/collabhub/internal/types"
)

// A Room is the set of connections currently viewing or editing one
// business document, keyed by (entityType, entityId). Rooms are
// created on first join and destroyed on last leave; an empty room is
// never retained.
type Room struct {
	key        string
	entityType string
	entityId   string

	lock    sync.RWMutex
	members map[string]*member
}

// member pairs a connection with its presence record. There is at most
// one member per (room, connection) pair; join is an upsert keyed by
// connection id.
type member struct {
	client   *Client
	presence types.Presence
}

// roomKey canonicalizes a (entityType, entityId) pair to a single map
// key. The key is opaque and never parsed back apart.
func roomKey(entityType, entityId string) string {
	return entityType + "/" + entityId
}

func newRoom(entityType, entityId string) *Room {
	return &Room{
		key:        roomKey(entityType, entityId),
		entityType: entityType,
		entityId:   entityId,
		members:    make(map[string]*member),
	}
}

// join adds the connection to the room and returns the member list as
// of the insertion, plus whether this was a first join. A re-join by a
// connection already in the room changes nothing but still returns the
// current list, so the client's join-on-mount and join-on-reconnect
// calls are interchangeable.
func (r *Room) join(c *Client) (collaborators []types.Presence, joined bool) {
	r.lock.Lock()

	if _, ok := r.members[c.id]; !ok {
		r.members[c.id] = &member{
			client: c,
			presence: types.Presence{
				UserId:   c.userId,
				UserName: c.userName,
				JoinedAt: time.Now().UTC(),
			},
		}
		c.addRoom(r)
		joined = true
	}

	collaborators = r.presenceListLocked()
	r.lock.Unlock()

	if joined {
		r.broadcast(newCollaboratorJoined(c.userId, c.userName), c.id)
	}

	return collaborators, joined
}

// leave removes the connection if it is a member. Removing a
// non-member is a no-op. Returns whether a member was removed and
// whether the room is now empty.
func (r *Room) leave(c *Client) (removed, empty bool) {
	r.lock.Lock()
	if _, ok := r.members[c.id]; ok {
		delete(r.members, c.id)
		c.delRoom(r.key)
		removed = true
	}
	empty = len(r.members) == 0
	r.lock.Unlock()

	if removed && !empty {
		r.broadcast(newCollaboratorLeft(c.userId), c.id)
	}

	return removed, empty
}

// setEditing updates the member's presence record and broadcasts the
// change. A connection that is not (yet) a member still gets its event
// broadcast: editing:start can arrive while its join is in flight, and
// a late event is not an error.
func (r *Room) setEditing(c *Client, isEditing bool, field string) {
	r.lock.Lock()
	if m, ok := r.members[c.id]; ok {
		m.presence.IsEditing = isEditing
		if isEditing {
			m.presence.CursorField = field
		} else {
			m.presence.CursorField = ""
		}
	}
	r.lock.Unlock()

	r.broadcast(newEditingChanged(c.userId, isEditing, field), c.id)
}

// relayChange forwards an opaque change payload to every other member.
// The hub never interprets the payload; merging concurrent edits is
// the caller's concern.
func (r *Room) relayChange(c *Client, changes json.RawMessage) {
	r.broadcast(newDocumentUpdated(changes), c.id)
}

// broadcast fans an event out to every member except skipConnId. Each
// delivery is a non-blocking enqueue; one slow consumer cannot stall
// the rest of the room.
func (r *Room) broadcast(ev *ServerEvent, skipConnId string) {
	r.lock.RLock()
	targets := make([]*Client, 0, len(r.members))
	for id, m := range r.members {
		if id == skipConnId {
			continue
		}
		targets = append(targets, m.client)
	}
	r.lock.RUnlock()

	for _, target := range targets {
		target.queueEvent(ev)
	}
}

func (r *Room) presenceListLocked() []types.Presence {
	collaborators := make([]types.Presence, 0, len(r.members))
	for _, m := range r.members {
		collaborators = append(collaborators, m.presence)
	}
	return collaborators
}

// Collaborators returns a snapshot of the room's presence records.
func (r *Room) Collaborators() []types.Presence {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.presenceListLocked()
}

func (r *Room) memberCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.members)
}
