package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// dialEventStream connects a websocket client through a minimal router
// that pins the owner key, the way the identity middleware would.
func dialEventStream(t *testing.T, hub *EventHub, ownerKey string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ws/drafts", func(c *gin.Context) {
		c.Set(ownerKeyContextKey, ownerKey)
		hub.Serve(c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/drafts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Registration runs in the handler goroutine; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(ownerKey) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestBroadcastReachesOwnersClients(t *testing.T) {
	hub := NewEventHub()
	conn := dialEventStream(t, hub, "session:abc")

	sent := DraftEvent{Type: EventDraftSaved, DraftID: 42, UpdatedAt: time.Now().UTC()}
	hub.Broadcast("session:abc", sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got DraftEvent
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != EventDraftSaved || got.DraftID != 42 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestBroadcastIsPartitionedByOwner(t *testing.T) {
	hub := NewEventHub()
	conn := dialEventStream(t, hub, "session:abc")

	hub.Broadcast("user:u1", DraftEvent{Type: EventDraftDeleted, DraftID: 7})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("client received another owner's event")
	}
}

func TestDisconnectUnregistersClient(t *testing.T) {
	hub := NewEventHub()
	conn := dialEventStream(t, hub, "session:abc")

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount("session:abc") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
