package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// envelope matches the push feed's line format, so browser clients and
// socket clients decode the same shape.
type envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// bridge holds the connected websockets and copies each emitted event
// to all of them.
type bridge struct {
	upgrader websocket.Upgrader

	mutex   sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newBridge() *bridge {
	return &bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The UI is served from the same origin; other origins get
			// the default check.
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (b *bridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Websocket upgrade failed:", err)
		return
	}
	b.mutex.Lock()
	b.clients[conn] = struct{}{}
	b.mutex.Unlock()

	// Clients never send anything meaningful; the read loop exists to
	// notice the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.remove(conn)
				return
			}
		}
	}()
}

func (b *bridge) remove(conn *websocket.Conn) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.clients[conn]; !ok {
		return
	}
	delete(b.clients, conn)
	conn.Close()
}

func (b *bridge) emit(event string, payload interface{}) {
	line, err := json.Marshal(envelope{Event: event, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		log.Printf("WARNING: could not marshal %q payload: %v", event, err)
		return
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	for conn := range b.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			log.Println("Write to websocket failed, removing it:", err)
			go b.remove(conn)
		}
	}
}

func (b *bridge) clientCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.clients)
}
