package websocket

import (
	"context"
	"encoding/json"
	"time"

	"campusmarket/pkg/logger"
)

// Wire event types. "message" carries a persisted message to its recipient;
// "messageSent" confirms a send back to its sender so the client can tell
// an echo of its own send apart from an inbound peer message.
const (
	EventMessage     = "message"
	EventMessageSent = "messageSent"
	EventStatus      = "status"
	EventOnlineUsers = "getOnlineUsers"
	EventError       = "error"
)

// Event is the envelope for every frame in both directions.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// InboundMessage is a client-originated send over the live transport.
type InboundMessage struct {
	ReceiverID string `json:"receiver_id"`
	ChatID     string `json:"chat_id"`
	ListingID  string `json:"listing_id"`
	Content    string `json:"content"`
}

// InboundStatus is a best-effort presence/typing signal. The recipient is
// never named directly; it is resolved from the chat so a signal cannot be
// pushed to an arbitrary user.
type InboundStatus struct {
	ChatID string `json:"chat_id"`
	Status string `json:"status"`
}

// EncodeEvent wraps data in the wire envelope.
func EncodeEvent(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleClientMessage processes one inbound WebSocket frame.
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var event Event
	if err := json.Unmarshal(messageBytes, &event); err != nil {
		logger.Warn("Invalid frame from client %s: %v", client.UserID, err)
		m.sendErrorToClient(client, "Invalid message format")
		return
	}

	switch event.Type {
	case EventMessage:
		var in InboundMessage
		if err := json.Unmarshal(event.Data, &in); err != nil {
			m.sendErrorToClient(client, "Invalid message payload")
			return
		}
		if in.Content == "" || (in.ChatID == "" && in.ListingID == "") {
			m.sendErrorToClient(client, "Missing required fields")
			return
		}
		if m.sink != nil {
			m.sink.DeliverLiveMessage(context.Background(), client.UserID, in)
		}

	case EventStatus:
		var in InboundStatus
		if err := json.Unmarshal(event.Data, &in); err != nil {
			return // best-effort signal, drop silently
		}
		if m.sink != nil {
			m.sink.DeliverStatus(context.Background(), client.UserID, in)
		}

	default:
		logger.Debug("Unknown event type %q from client %s", event.Type, client.UserID)
		m.sendErrorToClient(client, "Unknown event type")
	}
}

func (m *Manager) sendErrorToClient(client *Client, errorMsg string) {
	payload, err := EncodeEvent(EventError, map[string]string{"error": errorMsg})
	if err != nil {
		return
	}
	m.sendToClient(client, payload)
}
