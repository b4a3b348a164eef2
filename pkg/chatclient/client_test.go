package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	messages    chan Message
	confirms    chan Message
	statuses    chan StatusEvent
	onlineUsers chan []string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages:    make(chan Message, 8),
		confirms:    make(chan Message, 8),
		statuses:    make(chan StatusEvent, 8),
		onlineUsers: make(chan []string, 8),
	}
}

func (h *recordingHandler) OnMessage(m Message)        { h.messages <- m }
func (h *recordingHandler) OnMessageSent(m Message)    { h.confirms <- m }
func (h *recordingHandler) OnStatus(s StatusEvent)     { h.statuses <- s }
func (h *recordingHandler) OnOnlineUsers(ids []string) { h.onlineUsers <- ids }

func serverEvent(t *testing.T, eventType string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(event{Type: eventType, Data: raw})
	require.NoError(t, err)
	return payload
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientConnectRequiresToken(t *testing.T) {
	client := NewClient(Options{WSURL: "ws://localhost/ws"}, newRecordingHandler())

	err := client.Connect(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientDispatchesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok-1", r.URL.Query().Get("token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frames := [][]byte{
			serverEvent(t, "getOnlineUsers", []string{"buyer-1", "seller-1"}),
			serverEvent(t, "message", confirmedMessage("msg-1", "hello")),
			[]byte("{not json"),
			serverEvent(t, "unknownType", map[string]string{"x": "y"}),
			serverEvent(t, "status", StatusEvent{SenderID: "seller-1", ChatID: "chat-1", Status: "typing"}),
			serverEvent(t, "messageSent", confirmedMessage("msg-2", "ok")),
		}
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		}

		// Keep the connection open until the client hangs up.
		conn.ReadMessage()
	}))
	defer srv.Close()

	handler := newRecordingHandler()
	client := NewClient(Options{WSURL: wsURL(srv.URL), Token: "tok-1"}, handler)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	assert.Equal(t, StateConnected, client.State())

	select {
	case ids := <-handler.onlineUsers:
		assert.ElementsMatch(t, []string{"buyer-1", "seller-1"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for online users event")
	}

	select {
	case m := <-handler.messages:
		assert.Equal(t, "msg-1", m.ID)
		assert.Equal(t, "hello", m.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}

	// Malformed and unknown frames are dropped; the status event after them
	// still arrives, proving the read loop survived.
	select {
	case s := <-handler.statuses:
		assert.Equal(t, "typing", s.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
	}

	select {
	case m := <-handler.confirms:
		assert.Equal(t, "msg-2", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirmation event")
	}
}

func TestClientConnectTwiceFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	client := NewClient(Options{WSURL: wsURL(srv.URL), Token: "tok-1"}, newRecordingHandler())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	err := client.Connect(context.Background())
	require.Error(t, err)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	client := NewClient(Options{WSURL: wsURL(srv.URL), Token: "tok-1"}, newRecordingHandler())
	require.NoError(t, client.Connect(context.Background()))

	client.Close()
	client.Close()

	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientSendOverLiveSocket(t *testing.T) {
	received := make(chan event, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt event
		require.NoError(t, json.Unmarshal(payload, &evt))
		received <- evt
	}))
	defer srv.Close()

	client := NewClient(Options{WSURL: wsURL(srv.URL), Token: "tok-1"}, newRecordingHandler())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	m, err := client.Send(context.Background(), SendRequest{ChatID: "chat-1", Content: "hello"})
	require.NoError(t, err)
	assert.Nil(t, m, "socket sends are confirmed asynchronously")

	select {
	case evt := <-received:
		assert.Equal(t, "message", evt.Type)
		var req SendRequest
		require.NoError(t, json.Unmarshal(evt.Data, &req))
		assert.Equal(t, "chat-1", req.ChatID)
		assert.Equal(t, "hello", req.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for socket send")
	}
}

func TestClientSendFallsBackToREST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat-1", req.ChatID)

		persisted := confirmedMessage("msg-9", req.Content)
		raw, err := json.Marshal(persisted)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(apiEnvelope{Success: true, Data: raw})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Token: "tok-1"}, newRecordingHandler())

	m, err := client.Send(context.Background(), SendRequest{ChatID: "chat-1", Content: "hello"})

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "msg-9", m.ID)
	assert.Equal(t, "hello", m.Content)
}

func TestClientSendFallbackSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(apiEnvelope{
			Success: false,
			Error:   &apiError{Code: "FORBIDDEN", Message: "not a participant in this chat"},
		})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Token: "tok-1"}, newRecordingHandler())

	m, err := client.Send(context.Background(), SendRequest{ChatID: "chat-1", Content: "hello"})

	require.Error(t, err)
	assert.Nil(t, m)
	assert.Contains(t, err.Error(), "FORBIDDEN")
}

func TestClientFetchChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/chats/chat-1", r.URL.Path)

		history := ChatHistory{
			Chat:     Chat{ID: "chat-1", ListingID: "listing-1", BuyerID: "buyer-1", SellerID: "seller-1"},
			Messages: []Message{confirmedMessage("msg-1", "hello")},
			Users: map[string]UserSummary{
				"buyer-1": {ID: "buyer-1", FirstName: "Ayu"},
			},
		}
		raw, err := json.Marshal(history)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(apiEnvelope{Success: true, Data: raw})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Token: "tok-1"}, newRecordingHandler())

	history, err := client.FetchChat(context.Background(), "chat-1")

	require.NoError(t, err)
	assert.Equal(t, "chat-1", history.Chat.ID)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "msg-1", history.Messages[0].ID)
}
