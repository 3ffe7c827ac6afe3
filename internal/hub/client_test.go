package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bizdocs/collabhub/internal/token"
)

func TestQueueEvent(t *testing.T) {
	t.Run("successful enqueue", func(t *testing.T) {
		h := newTestHub(t)
		c := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})

		assert.True(t, c.queueEvent(&ServerEvent{Event: EventNotificationNew}),
			"expected enqueue to succeed with a free queue")

		events := drainEvents(c)
		assert.Len(t, events, 1)
	})

	t.Run("full queue drops and flags suspect", func(t *testing.T) {
		h := newTestHub(t)
		c := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
		c.send = make(chan *ServerEvent, 1)
		c.send <- &ServerEvent{Event: EventNotificationNew}

		assert.False(t, c.queueEvent(&ServerEvent{Event: EventDocumentUpdated}),
			"expected enqueue to fail on a full queue")

		c.suspectLock.Lock()
		suspect := c.suspect
		c.suspectLock.Unlock()
		assert.True(t, suspect, "expected the connection to be flagged suspect after a drop")
	})

	t.Run("successful enqueue clears suspect flag", func(t *testing.T) {
		h := newTestHub(t)
		c := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
		c.suspect = true

		assert.True(t, c.queueEvent(&ServerEvent{Event: EventNotificationNew}))

		c.suspectLock.Lock()
		suspect := c.suspect
		c.suspectLock.Unlock()
		assert.False(t, suspect, "expected a successful send to clear the suspect flag")
	})
}

func TestDispatch_Join(t *testing.T) {
	h := newTestHub(t)
	c := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})

	data, _ := json.Marshal(RoomRef{EntityType: "quote", EntityId: "Q1"})
	c.dispatch(&ClientEvent{Event: EventJoinCollaboration, Data: data})

	_, ok := h.Room("quote", "Q1")
	assert.True(t, ok, "expected dispatching join:collaboration to create the room")

	events := drainEvents(c)
	if assert.Len(t, events, 1, "expected the joiner to receive collaborators:list exactly once") {
		assert.Equal(t, EventCollaboratorsList, events[0].Event)
		list := events[0].Data.(CollaboratorsList)
		assert.Len(t, list.Collaborators, 1)
		assert.Equal(t, 1, list.Collaborators[0].UserId)
	}
}

func TestDispatch_LeaveAndEditing(t *testing.T) {
	h := newTestHub(t)
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})

	h.Join(a, "quote", "Q1")
	h.Join(b, "quote", "Q1")
	drainEvents(a)
	drainEvents(b)

	data, _ := json.Marshal(EditingStart{EntityType: "quote", EntityId: "Q1", Field: "notes"})
	a.dispatch(&ClientEvent{Event: EventEditingStart, Data: data})

	events := drainEvents(b)
	if assert.Len(t, events, 1) {
		assert.Equal(t, EventEditingChanged, events[0].Event)
		assert.Equal(t, EditingChanged{UserId: 1, IsEditing: true, Field: "notes"}, events[0].Data)
	}

	data, _ = json.Marshal(RoomRef{EntityType: "quote", EntityId: "Q1"})
	a.dispatch(&ClientEvent{Event: EventLeaveCollaboration, Data: data})

	r, ok := h.Room("quote", "Q1")
	assert.True(t, ok)
	assert.Equal(t, 1, r.memberCount(), "expected dispatching leave:collaboration to remove the member")
}

func TestDispatch_DocumentChange(t *testing.T) {
	h := newTestHub(t)
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})

	h.Join(a, "quote", "Q1")
	h.Join(b, "quote", "Q1")
	drainEvents(a)
	drainEvents(b)

	raw := []byte(`{"event":"document:change","data":{"entityType":"quote","entityId":"Q1","changes":{"total":12.5}}}`)
	var ev ClientEvent
	assert.NoError(t, json.Unmarshal(raw, &ev))
	a.dispatch(&ev)

	events := drainEvents(b)
	if assert.Len(t, events, 1) {
		assert.Equal(t, EventDocumentUpdated, events[0].Event)
		payload := events[0].Data.(DocumentUpdated)
		assert.JSONEq(t, `{"total":12.5}`, string(payload.Changes))
	}
}

func TestDispatch_BadInput(t *testing.T) {
	h := newTestHub(t)
	c := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})

	// malformed payloads and unknown events are dropped, never fatal
	c.dispatch(&ClientEvent{Event: EventJoinCollaboration, Data: json.RawMessage(`"not-an-object"`)})
	c.dispatch(&ClientEvent{Event: "presence:poke", Data: json.RawMessage(`{}`)})

	assert.Empty(t, drainEvents(c), "expected no response to bad input")
	_, ok := h.Room("", "")
	assert.False(t, ok, "expected no room from a malformed join")
}
