package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bizdocs/collabhub/internal/token"
)

func TestRoomKey(t *testing.T) {
	assert.Equal(t, "quote/Q1", roomKey("quote", "Q1"))
	assert.NotEqual(t, roomKey("quote", "Q1"), roomKey("invoice", "Q1"),
		"expected rooms for different entity types to have distinct keys")
}

func TestRoomJoin_Upsert(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})

	collaborators, joined := r.join(a)
	assert.True(t, joined, "expected first join to insert a member")
	assert.Len(t, collaborators, 1)

	collaborators, joined = r.join(a)
	assert.False(t, joined, "expected re-join to be an upsert no-op")
	assert.Len(t, collaborators, 1, "expected re-join to still return the member list")
	assert.Equal(t, 1, r.memberCount(), "expected at most one presence record per connection")
}

func TestRoomJoin_ListReflectsMembershipAtJoin(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})

	r.join(a)
	collaborators, _ := r.join(b)

	userIds := make([]int, 0, len(collaborators))
	for _, p := range collaborators {
		userIds = append(userIds, p.UserId)
	}
	assert.ElementsMatch(t, []int{1, 2}, userIds,
		"expected the joiner's list to include the joiner itself, not a stale snapshot")
}

func TestRoomLeave(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})

	r.join(a)
	r.join(b)
	drainEvents(a)
	drainEvents(b)

	removed, empty := r.leave(a)
	assert.True(t, removed)
	assert.False(t, empty)

	events := drainEvents(b)
	if assert.Len(t, events, 1, "expected collaborator:left at the remaining member") {
		assert.Equal(t, EventCollaboratorLeft, events[0].Event)
	}

	removed, empty = r.leave(a)
	assert.False(t, removed, "expected leaving twice to be a no-op")
	assert.False(t, empty)

	removed, empty = r.leave(b)
	assert.True(t, removed)
	assert.True(t, empty, "expected the room to report empty on last leave")
	assert.Empty(t, drainEvents(a), "expected no broadcast to an empty room")
}

func TestRoomSetEditing_NonMemberStillBroadcasts(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})

	r.join(b)
	drainEvents(b)

	// a's editing:start raced ahead of its join
	r.setEditing(a, true, "total")

	events := drainEvents(b)
	if assert.Len(t, events, 1, "expected the late editing event to be broadcast, not dropped") {
		assert.Equal(t, EventEditingChanged, events[0].Event)
	}
	assert.Equal(t, 1, r.memberCount(), "expected no presence record for the non-member")
}

func TestRoomSetEditing_ClearsCursorField(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})

	r.join(a)
	r.setEditing(a, true, "total")
	r.setEditing(a, false, "")

	collaborators := r.Collaborators()
	if assert.Len(t, collaborators, 1) {
		assert.False(t, collaborators[0].IsEditing)
		assert.Empty(t, collaborators[0].CursorField, "expected cursor field cleared with editing stop")
	}
}

func TestRoomRelayChange_SkipsSender(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})
	c := h.Admit(nil, token.Identity{UserId: 3, UserName: "carol"})

	r.join(a)
	r.join(b)
	r.join(c)
	drainEvents(a)
	drainEvents(b)
	drainEvents(c)

	changes := json.RawMessage(`{"total":99}`)
	r.relayChange(a, changes)

	assert.Empty(t, drainEvents(a), "expected no echo to the sender")

	for _, recipient := range []*Client{b, c} {
		events := drainEvents(recipient)
		if assert.Len(t, events, 1, "expected document:updated at every other member") {
			assert.Equal(t, EventDocumentUpdated, events[0].Event)
			assert.Equal(t, DocumentUpdated{Changes: changes}, events[0].Data,
				"expected the payload to be relayed untouched")
		}
	}
}

func TestRoomRelayChange_PerSenderOrder(t *testing.T) {
	h := newTestHub(t)
	r := newRoom("quote", "Q1")
	a := h.Admit(nil, token.Identity{UserId: 1, UserName: "alice"})
	b := h.Admit(nil, token.Identity{UserId: 2, UserName: "bob"})

	r.join(a)
	r.join(b)
	drainEvents(b)

	for i := 0; i < 5; i++ {
		r.relayChange(a, json.RawMessage(`{"seq":`+string(rune('0'+i))+`}`))
	}

	events := drainEvents(b)
	if assert.Len(t, events, 5) {
		for i, ev := range events {
			expected := json.RawMessage(`{"seq":` + string(rune('0'+i)) + `}`)
			assert.Equal(t, DocumentUpdated{Changes: expected}, ev.Data,
				"expected events from one sender to arrive in send order")
		}
	}
}
