package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle of the session client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Handler receives the inbound event stream. OnMessage carries a
// peer-originated message; OnMessageSent confirms one of this client's own
// sends so the two are never confused.
type Handler interface {
	OnMessage(Message)
	OnMessageSent(Message)
	OnStatus(StatusEvent)
	OnOnlineUsers([]string)
}

type Options struct {
	// BaseURL is the REST endpoint root, e.g. "http://localhost:8080".
	BaseURL string
	// WSURL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	WSURL string
	// Token is the bearer token carried in the handshake; connecting
	// without one is refused.
	Token string
	// SendTimeout bounds the synchronous fallback send.
	SendTimeout time.Duration
	HTTPClient  *http.Client
}

// Client owns a single live transport connection for one authenticated
// identity. Sends prefer the live socket and fall back to the synchronous
// REST call when no connection is up.
type Client struct {
	opts       Options
	handler    Handler
	httpClient *http.Client

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	conn    *websocket.Conn
	cancel  context.CancelFunc
}

type SendRequest struct {
	ChatID    string `json:"chat_id,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
	Content   string `json:"content"`
}

// Chat mirrors the server-side chat record.
type Chat struct {
	ID                   string    `json:"id"`
	ListingID            string    `json:"listing_id"`
	SellerID             string    `json:"seller_id"`
	BuyerID              string    `json:"buyer_id"`
	LastMessage          string    `json:"last_message,omitempty"`
	LastMessageTimestamp time.Time `json:"last_message_timestamp,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ChatHistory is an authoritative chat snapshot, feeding Store.SetMessages.
type ChatHistory struct {
	Chat     Chat                   `json:"chat"`
	Messages []Message              `json:"messages"`
	Users    map[string]UserSummary `json:"users,omitempty"`
}

// event is the wire envelope shared with the server.
type event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewClient(opts Options, handler Handler) *Client {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		opts:       opts,
		handler:    handler,
		httpClient: httpClient,
		state:      StateDisconnected,
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the live transport. It requires an authenticated identity:
// the bearer token rides the handshake and the server registers the session
// from it.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.Token == "" {
		return fmt.Errorf("chatclient: cannot connect without a token")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("chatclient: already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.WSURL+"?token="+c.opts.Token, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("chatclient: dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn)

	return nil
}

// Close tears the connection down and stops event delivery. Idempotent.
// In-flight fallback sends are not cancelled; they complete or time out on
// their own.
func (c *Client) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.dropConn(conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Once disconnected, stop delivering events even if a frame raced
		// the teardown.
		if ctx.Err() != nil {
			return
		}

		var evt event
		if err := json.Unmarshal(payload, &evt); err != nil {
			continue
		}

		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt event) {
	switch evt.Type {
	case "message":
		var m Message
		if err := json.Unmarshal(evt.Data, &m); err != nil || m.ID == "" {
			return
		}
		c.handler.OnMessage(m)

	case "messageSent":
		var m Message
		if err := json.Unmarshal(evt.Data, &m); err != nil || m.ID == "" {
			return
		}
		c.handler.OnMessageSent(m)

	case "status":
		var s StatusEvent
		if err := json.Unmarshal(evt.Data, &s); err != nil {
			return
		}
		c.handler.OnStatus(s)

	case "getOnlineUsers":
		var ids []string
		if err := json.Unmarshal(evt.Data, &ids); err != nil {
			return
		}
		c.handler.OnOnlineUsers(ids)
	}
	// Unknown event types are dropped.
}

func (c *Client) dropConn(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

// Send delivers one message: fire-and-forget over the live socket when
// connected (the confirmation arrives as a messageSent event), otherwise the
// synchronous REST fallback, which returns the persisted message directly.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Message, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && conn != nil {
		payload, err := encodeClientEvent("message", req)
		if err != nil {
			return nil, fmt.Errorf("chatclient: encode send: %w", err)
		}

		c.writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()

		if err == nil {
			return nil, nil
		}
		// Socket write failed mid-send; drop the dead connection and fall
		// through to the synchronous path.
		c.dropConn(conn)
	}

	return c.sendFallback(ctx, req)
}

// SendStatus pushes a best-effort typing/presence signal over the live
// socket; without a connection it is silently skipped.
func (c *Client) SendStatus(status StatusEvent) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	payload, err := encodeClientEvent("status", status)
	if err != nil {
		return
	}

	c.writeMu.Lock()
	conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
}

func (c *Client) sendFallback(ctx context.Context, req SendRequest) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	var m Message
	if err := c.doJSON(ctx, http.MethodPost, "/v1/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchChat loads a chat's authoritative history snapshot.
func (c *Client) FetchChat(ctx context.Context, chatID string) (*ChatHistory, error) {
	var history ChatHistory
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chats/"+chatID, nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// StartConversation runs the REST create-chat flow for a listing.
func (c *Client) StartConversation(ctx context.Context, listingID, content string) (*ChatHistory, error) {
	var history ChatHistory
	body := SendRequest{ListingID: listingID, Content: content}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chats", body, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chatclient: encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("chatclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("chatclient: decode response: %w", err)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("chatclient: %s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("chatclient: request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("chatclient: decode payload: %w", err)
		}
	}
	return nil
}

func encodeClientEvent(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(event{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
