package hub

import (
	"encoding/json"

	"github.com/bizdocs/collabhub/internal/types"
)

// Event names shared with the browser client. These are part of the
// wire contract and must not change without a coordinated client
// release.
const (
	// client -> server
	EventJoinCollaboration  = "join:collaboration"
	EventLeaveCollaboration = "leave:collaboration"
	EventEditingStart       = "editing:start"
	EventEditingStop        = "editing:stop"
	EventDocumentChange     = "document:change"

	// server -> client
	EventCollaboratorsList  = "collaborators:list"
	EventCollaboratorJoined = "collaborator:joined"
	EventCollaboratorLeft   = "collaborator:left"
	EventEditingChanged     = "editing:changed"
	EventDocumentUpdated    = "document:updated"
	EventNotificationNew    = "notification:new"
)

// ClientEvent is the envelope for every inbound message. Data is left
// raw until the event name selects a payload type.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope for every outbound message.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// RoomRef identifies a room by the business document it tracks. Used
// by join:collaboration, leave:collaboration and editing:stop.
type RoomRef struct {
	EntityType string `json:"entityType"`
	EntityId   string `json:"entityId"`
}

type EditingStart struct {
	EntityType string `json:"entityType"`
	EntityId   string `json:"entityId"`
	Field      string `json:"field,omitempty"`
}

type DocumentChange struct {
	EntityType string          `json:"entityType"`
	EntityId   string          `json:"entityId"`
	Changes    json.RawMessage `json:"changes"`
}

type CollaboratorsList struct {
	Collaborators []types.Presence `json:"collaborators"`
}

type CollaboratorJoined struct {
	UserId   int    `json:"userId"`
	UserName string `json:"userName"`
}

type CollaboratorLeft struct {
	UserId int `json:"userId"`
}

type EditingChanged struct {
	UserId    int    `json:"userId"`
	IsEditing bool   `json:"isEditing"`
	Field     string `json:"field,omitempty"`
}

type DocumentUpdated struct {
	Changes json.RawMessage `json:"changes"`
}

type NotificationNew struct {
	Notification types.Notification `json:"notification"`
}

func newCollaboratorsList(collaborators []types.Presence) *ServerEvent {
	return &ServerEvent{
		Event: EventCollaboratorsList,
		Data:  CollaboratorsList{Collaborators: collaborators},
	}
}

func newCollaboratorJoined(userId int, userName string) *ServerEvent {
	return &ServerEvent{
		Event: EventCollaboratorJoined,
		Data:  CollaboratorJoined{UserId: userId, UserName: userName},
	}
}

func newCollaboratorLeft(userId int) *ServerEvent {
	return &ServerEvent{
		Event: EventCollaboratorLeft,
		Data:  CollaboratorLeft{UserId: userId},
	}
}

func newEditingChanged(userId int, isEditing bool, field string) *ServerEvent {
	return &ServerEvent{
		Event: EventEditingChanged,
		Data:  EditingChanged{UserId: userId, IsEditing: isEditing, Field: field},
	}
}

func newDocumentUpdated(changes json.RawMessage) *ServerEvent {
	return &ServerEvent{
		Event: EventDocumentUpdated,
		Data:  DocumentUpdated{Changes: changes},
	}
}

// NewNotificationEvent wraps a freshly created notification for
// delivery to the owning user's live connections.
func NewNotificationEvent(n types.Notification) *ServerEvent {
	return &ServerEvent{
		Event: EventNotificationNew,
		Data:  NotificationNew{Notification: n},
	}
}
