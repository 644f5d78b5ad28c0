package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection, optionally bound to a user so
// status pushes can be targeted.
type Client struct {
	Conn   *websocket.Conn
	UserID uuid.UUID
}

// Hub manages WebSocket clients and pushes messages to them.
type Hub struct {
	connections map[*websocket.Conn]uuid.UUID
	Register    chan Client
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	direct      chan directMessage
	mu          sync.Mutex
}

type directMessage struct {
	userID uuid.UUID
	msg    []byte
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]uuid.UUID),
		Register:    make(chan Client),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte),
		direct:      make(chan directMessage),
	}
}

// SendToUser pushes a message to every connection bound to the user.
func (h *Hub) SendToUser(userID uuid.UUID, msg []byte) {
	h.direct <- directMessage{userID: userID, msg: msg}
}

// Run processes register/unregister/broadcast events.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.connections[client.Conn] = client.UserID
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		case dm := <-h.direct:
			h.mu.Lock()
			for conn, userID := range h.connections {
				if userID != dm.userID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, dm.msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}
