package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"campusmarket/pkg/logger"
)

// Client represents a single live WebSocket session for a user.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Manager is the connection registry: it maps a user id to at most one live
// session. A reconnect overwrites the previous session (last-connect-wins);
// the replaced session is not notified.
type Manager struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex

	sink MessageSink
}

// MessageSink receives inbound client events that need the delivery
// protocol. It is set after construction to break the wiring cycle between
// the registry and the chat usecase.
type MessageSink interface {
	DeliverLiveMessage(ctx context.Context, senderID string, in InboundMessage)
	DeliverStatus(ctx context.Context, senderID string, in InboundStatus)
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetSink wires the inbound-event consumer. Must be called before the first
// connection is accepted.
func (m *Manager) SetSink(sink MessageSink) {
	m.sink = sink
}

// Start runs the manager's main loop in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if old, ok := m.clients[client.UserID]; ok {
					// Last-connect-wins: evict the stale session's write
					// pump; its read pump will unregister itself on close.
					close(old.Send)
				}
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)
				m.broadcastOnlineUsers()

			case client := <-m.Unregister:
				m.mutex.Lock()
				current, ok := m.clients[client.UserID]
				if ok && current == client {
					delete(m.clients, client.UserID)
					close(client.Send)
				}
				m.mutex.Unlock()
				if ok && current == client {
					logger.Info("Client unregistered: %s", client.UserID)
					m.broadcastOnlineUsers()
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Resolve looks up the live session for a user. Absence means the user is
// not currently reachable live, not an error.
func (m *Manager) Resolve(userID string) (*Client, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	client, ok := m.clients[userID]
	return client, ok
}

// OnlineUserIDs returns the ids of all currently registered users.
func (m *Manager) OnlineUserIDs() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// SendEvent pushes an event to a user's live session if one exists and
// reports whether it was handed to the session. A miss is not an error.
func (m *Manager) SendEvent(userID string, eventType string, data interface{}) bool {
	client, ok := m.Resolve(userID)
	if !ok {
		return false
	}

	payload, err := EncodeEvent(eventType, data)
	if err != nil {
		logger.Error("Failed to encode %s event for user %s: %v", eventType, userID, err)
		return false
	}

	return m.sendToClient(client, payload)
}

func (m *Manager) sendToClient(client *Client, payload []byte) bool {
	// Register closes an evicted session's send channel under this lock, so
	// the send must hold it too and re-check that this client is still the
	// registered session for its user.
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if current, ok := m.clients[client.UserID]; !ok || current != client {
		return false
	}

	select {
	case client.Send <- payload:
		return true
	default:
		// Send buffer full: the session is wedged, drop it.
		logger.Warn("Client %s send buffer full, dropping session", client.UserID)
		delete(m.clients, client.UserID)
		close(client.Send)
		return false
	}
}

// broadcastOnlineUsers pushes the full online-user id set to every live
// session. Best-effort, not delivery-critical.
func (m *Manager) broadcastOnlineUsers() {
	ids := m.OnlineUserIDs()

	payload, err := EncodeEvent(EventOnlineUsers, ids)
	if err != nil {
		logger.Error("Failed to encode online users broadcast: %v", err)
		return
	}

	m.mutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.mutex.RUnlock()

	for _, client := range clients {
		m.sendToClient(client, payload)
	}
}

// ReadPump reads messages from the WebSocket connection and dispatches them
// to the manager until the connection drops.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("Read error for client %s: %v", c.UserID, err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump drains the send channel onto the WebSocket connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Error("Write error for client %s: %v", c.UserID, err)
			return
		}
	}
}
