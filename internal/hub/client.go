package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bizdocs/collabhub/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one live websocket connection. A user with several tabs
// open has one Client per tab, all indexed under the same user id.
type Client struct {
	id        string
	userId    int
	userName  string
	conn      *websocket.Conn
	hub       *Hub
	log       *log.Logger
	send      chan *ServerEvent
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	// suspect is set when an event had to be dropped because the send
	// queue was full. A second drop while suspect force-closes the
	// connection rather than letting it stall room broadcasts.
	suspectLock sync.Mutex
	suspect     bool

	roomsLock sync.RWMutex
	rooms     map[string]*Room
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) UserId() int {
	return c.userId
}

func (c *Client) UserName() string {
	return c.userName
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("conn %s: write exiting", c.id)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Printf("conn %s: serialize event: %v", c.id, err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.hub.Remove(c.id)
		c.stopClient()
		c.log.Printf("conn %s: read exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("conn %s: ws read: %v", c.id, err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Printf("conn %s: parse event: %v", c.id, err)
			continue
		}

		c.dispatch(&ev)
	}
}

// dispatch routes one inbound event. Malformed payloads and unknown
// event names are logged and dropped; presence is advisory and a bad
// event must not cost the client its connection.
func (c *Client) dispatch(ev *ClientEvent) {
	switch ev.Event {
	case EventJoinCollaboration:
		var ref RoomRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			c.log.Printf("conn %s: %s: %v", c.id, ev.Event, err)
			return
		}
		collaborators := c.hub.Join(c, ref.EntityType, ref.EntityId)
		c.queueEvent(newCollaboratorsList(collaborators))
	case EventLeaveCollaboration:
		var ref RoomRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			c.log.Printf("conn %s: %s: %v", c.id, ev.Event, err)
			return
		}
		c.hub.Leave(c, ref.EntityType, ref.EntityId)
	case EventEditingStart:
		var start EditingStart
		if err := json.Unmarshal(ev.Data, &start); err != nil {
			c.log.Printf("conn %s: %s: %v", c.id, ev.Event, err)
			return
		}
		c.hub.SetEditing(c, start.EntityType, start.EntityId, true, start.Field)
	case EventEditingStop:
		var ref RoomRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			c.log.Printf("conn %s: %s: %v", c.id, ev.Event, err)
			return
		}
		c.hub.SetEditing(c, ref.EntityType, ref.EntityId, false, "")
	case EventDocumentChange:
		var change DocumentChange
		if err := json.Unmarshal(ev.Data, &change); err != nil {
			c.log.Printf("conn %s: %s: %v", c.id, ev.Event, err)
			return
		}
		c.hub.BroadcastChange(c, change.EntityType, change.EntityId, change.Changes)
	default:
		c.log.Printf("conn %s: unknown event %q", c.id, ev.Event)
	}
}

// queueEvent enqueues an outbound event without ever blocking the
// caller. A full queue means a slow or dead consumer: the newest event
// is dropped, the connection is flagged suspect, and a second drop
// while suspect closes it so the dead-connection path runs Remove.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
		c.suspectLock.Lock()
		c.suspect = false
		c.suspectLock.Unlock()
		return true
	default:
	}

	c.hub.stats.Incr(stats.EventsDropped)

	c.suspectLock.Lock()
	wasSuspect := c.suspect
	c.suspect = true
	c.suspectLock.Unlock()

	if wasSuspect {
		c.log.Printf("conn %s: send queue still full, closing connection", c.id)
		c.close()
	} else {
		c.log.Printf("conn %s: send queue full, dropping event %q", c.id, ev.Event)
	}

	return false
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("conn %s: write message: %v", c.id, err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// close tears down the transport. The read pump unblocks with an error
// and runs the full Remove/LeaveAll cleanup.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.key] = r
}

func (c *Client) delRoom(key string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, key)
}

// roomList snapshots the rooms this connection is in. LeaveAll works
// on the snapshot so Leave can mutate c.rooms without holding the lock
// it is iterating under.
func (c *Client) roomList() []*Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}
