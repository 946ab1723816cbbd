// internal/api/events.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/storyforge/draftsync/internal/utils"
)

// Draft event types pushed to connected tabs.
const (
	EventDraftSaved   = "draft_saved"
	EventDraftDeleted = "draft_deleted"
)

// DraftEvent tells other tabs of the same owner that their cached
// draft list is stale.
type DraftEvent struct {
	Type      string    `json:"type"`
	DraftID   int64     `json:"draftId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventClient is one connected browser tab.
type eventClient struct {
	conn     *websocket.Conn
	ownerKey string
	send     chan []byte
	closed   int32
}

func (c *eventClient) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.conn.Close()
	}
}

func (c *eventClient) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// EventHub fans draft events out to connected clients, partitioned by
// owner key so one owner never observes another's activity.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]map[*eventClient]bool
	log     *utils.Logger

	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:      make(map[string]map[*eventClient]bool),
		log:          utils.GetLogger(),
		pingInterval: 30 * time.Second,
		readTimeout:  90 * time.Second,
	}
}

// Broadcast sends an event to every client registered under ownerKey.
// Slow clients drop messages instead of blocking the caller.
func (h *EventHub) Broadcast(ownerKey string, event DraftEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("marshal draft event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[ownerKey] {
		if client.isClosed() {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.log.Warnf("draft event queue full for %s, dropping message", ownerKey)
		}
	}
}

// ClientCount reports connected clients for an owner key.
func (h *EventHub) ClientCount(ownerKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerKey])
}

func (h *EventHub) register(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.ownerKey] == nil {
		h.clients[client.ownerKey] = make(map[*eventClient]bool)
	}
	h.clients[client.ownerKey][client] = true
}

func (h *EventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clients[client.ownerKey]; ok {
		delete(peers, client)
		if len(peers) == 0 {
			delete(h.clients, client.ownerKey)
		}
	}
}

// Serve upgrades the request and streams draft events for the
// caller's owner key until the connection drops.
func (h *EventHub) Serve(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade: %v", err)
		return
	}

	client := &eventClient{
		conn:     conn,
		ownerKey: ownerKey,
		send:     make(chan []byte, 64),
	}
	h.register(client)

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *EventHub) writeLoop(client *eventClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains the connection so control frames are processed and
// a closed peer is noticed.
func (h *EventHub) readLoop(client *eventClient) {
	defer func() {
		h.unregister(client)
		client.close()
		close(client.send)
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
