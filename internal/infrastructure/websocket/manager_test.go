package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	return m
}

func newTestClient(userID string) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, 16)}
}

// seedRegistered installs a session directly, for tests that exercise frame
// handling without the manager loop.
func seedRegistered(m *Manager, c *Client) {
	m.mutex.Lock()
	m.clients[c.UserID] = c
	m.mutex.Unlock()
}

func registerAndWait(t *testing.T, m *Manager, c *Client) {
	t.Helper()
	m.Register <- c
	require.Eventually(t, func() bool {
		current, ok := m.Resolve(c.UserID)
		return ok && current == c
	}, 2*time.Second, 5*time.Millisecond)
}

func decodeEvent(t *testing.T, payload []byte) Event {
	t.Helper()
	var evt Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	return evt
}

func TestManagerLastConnectWins(t *testing.T) {
	m := startedManager(t)

	first := newTestClient("user-1")
	registerAndWait(t, m, first)

	second := newTestClient("user-1")
	registerAndWait(t, m, second)

	current, ok := m.Resolve("user-1")
	require.True(t, ok)
	assert.Same(t, second, current)

	// The evicted session's send channel is closed so its write pump exits.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-first.Send:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerStaleUnregisterIsIgnored(t *testing.T) {
	m := startedManager(t)

	first := newTestClient("user-1")
	registerAndWait(t, m, first)

	second := newTestClient("user-1")
	registerAndWait(t, m, second)

	// The evicted session's read pump unregisters late; the live session
	// must survive it.
	m.Unregister <- first
	time.Sleep(50 * time.Millisecond)

	current, ok := m.Resolve("user-1")
	require.True(t, ok)
	assert.Same(t, second, current)
}

func TestManagerUnregisterRemovesSession(t *testing.T) {
	m := startedManager(t)

	client := newTestClient("user-1")
	registerAndWait(t, m, client)

	m.Unregister <- client
	require.Eventually(t, func() bool {
		_, ok := m.Resolve("user-1")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, m.OnlineUserIDs())
}

func TestManagerBroadcastsOnlineUsers(t *testing.T) {
	m := startedManager(t)

	alice := newTestClient("alice")
	registerAndWait(t, m, alice)

	bob := newTestClient("bob")
	registerAndWait(t, m, bob)

	// Alice sees a presence update listing both users once bob joins.
	require.Eventually(t, func() bool {
		select {
		case payload := <-alice.Send:
			var evt Event
			if json.Unmarshal(payload, &evt) != nil || evt.Type != EventOnlineUsers {
				return false
			}
			var ids []string
			return json.Unmarshal(evt.Data, &ids) == nil && len(ids) == 2
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerSendEventDelivers(t *testing.T) {
	m := startedManager(t)

	client := newTestClient("user-1")
	registerAndWait(t, m, client)
	drain(client)

	ok := m.SendEvent("user-1", EventStatus, map[string]string{"status": "typing"})
	require.True(t, ok)

	select {
	case payload := <-client.Send:
		evt := decodeEvent(t, payload)
		assert.Equal(t, EventStatus, evt.Type)
		var data map[string]string
		require.NoError(t, json.Unmarshal(evt.Data, &data))
		assert.Equal(t, "typing", data["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestManagerSendEventMissReturnsFalse(t *testing.T) {
	m := startedManager(t)

	ok := m.SendEvent("nobody", EventMessage, map[string]string{"content": "hello"})
	assert.False(t, ok)
}

func TestManagerDropsWedgedSession(t *testing.T) {
	m := startedManager(t)

	// Room for the registration broadcast only.
	client := &Client{UserID: "user-1", Send: make(chan []byte, 1)}
	registerAndWait(t, m, client)
	require.Eventually(t, func() bool {
		return len(client.Send) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ok := m.SendEvent("user-1", EventStatus, map[string]string{"status": "typing"})
	require.False(t, ok)

	_, stillThere := m.Resolve("user-1")
	assert.False(t, stillThere)
}

func TestManagerSendDuringReconnectStorm(t *testing.T) {
	m := startedManager(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var last *Client
		for i := 0; i < 500; i++ {
			c := newTestClient("user-1")
			m.Register <- c
			last = c
		}
		m.Unregister <- last
	}()

	// Deliveries racing the reconnects must never touch an evicted
	// session's closed channel.
	for {
		select {
		case <-done:
			return
		default:
			m.SendEvent("user-1", EventStatus, map[string]string{"status": "typing"})
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

type recordedDelivery struct {
	senderID string
	message  InboundMessage
}

type recordedStatus struct {
	senderID string
	status   InboundStatus
}

type fakeSink struct {
	deliveries chan recordedDelivery
	statuses   chan recordedStatus
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		deliveries: make(chan recordedDelivery, 8),
		statuses:   make(chan recordedStatus, 8),
	}
}

func (s *fakeSink) DeliverLiveMessage(_ context.Context, senderID string, in InboundMessage) {
	s.deliveries <- recordedDelivery{senderID: senderID, message: in}
}

func (s *fakeSink) DeliverStatus(_ context.Context, senderID string, in InboundStatus) {
	s.statuses <- recordedStatus{senderID: senderID, status: in}
}

func clientFrame(t *testing.T, eventType string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(Event{Type: eventType, Data: raw})
	require.NoError(t, err)
	return payload
}

func TestHandleClientMessageDispatchesToSink(t *testing.T) {
	m := NewManager()
	sink := newFakeSink()
	m.SetSink(sink)

	client := newTestClient("buyer-1")
	seedRegistered(m, client)

	frame := clientFrame(t, EventMessage, InboundMessage{ChatID: "chat-1", Content: "hello"})
	m.HandleClientMessage(client, frame)

	select {
	case d := <-sink.deliveries:
		assert.Equal(t, "buyer-1", d.senderID)
		assert.Equal(t, "chat-1", d.message.ChatID)
		assert.Equal(t, "hello", d.message.Content)
	default:
		t.Fatal("expected message to reach the sink")
	}
}

func TestHandleClientMessageRejectsIncompleteSend(t *testing.T) {
	m := NewManager()
	sink := newFakeSink()
	m.SetSink(sink)

	client := newTestClient("buyer-1")
	seedRegistered(m, client)

	// No chat or listing reference.
	frame := clientFrame(t, EventMessage, InboundMessage{Content: "hello"})
	m.HandleClientMessage(client, frame)

	assert.Empty(t, sink.deliveries)

	select {
	case payload := <-client.Send:
		evt := decodeEvent(t, payload)
		assert.Equal(t, EventError, evt.Type)
	default:
		t.Fatal("expected an error event")
	}
}

func TestHandleClientMessageMalformedFrame(t *testing.T) {
	m := NewManager()
	sink := newFakeSink()
	m.SetSink(sink)

	client := newTestClient("buyer-1")
	seedRegistered(m, client)
	m.HandleClientMessage(client, []byte("{not json"))

	select {
	case payload := <-client.Send:
		evt := decodeEvent(t, payload)
		assert.Equal(t, EventError, evt.Type)
	default:
		t.Fatal("expected an error event")
	}
}

func TestHandleClientMessageForwardsStatus(t *testing.T) {
	m := NewManager()
	sink := newFakeSink()
	m.SetSink(sink)

	client := newTestClient("buyer-1")
	seedRegistered(m, client)
	frame := clientFrame(t, EventStatus, InboundStatus{ChatID: "chat-1", Status: "typing"})
	m.HandleClientMessage(client, frame)

	select {
	case s := <-sink.statuses:
		assert.Equal(t, "buyer-1", s.senderID)
		assert.Equal(t, "typing", s.status.Status)
	default:
		t.Fatal("expected status to reach the sink")
	}
}

func TestHandleClientMessageUnknownType(t *testing.T) {
	m := NewManager()
	sink := newFakeSink()
	m.SetSink(sink)

	client := newTestClient("buyer-1")
	seedRegistered(m, client)
	frame := clientFrame(t, "subscribe", map[string]string{"channel": "all"})
	m.HandleClientMessage(client, frame)

	select {
	case payload := <-client.Send:
		evt := decodeEvent(t, payload)
		assert.Equal(t, EventError, evt.Type)
	default:
		t.Fatal("expected an error event")
	}
}
