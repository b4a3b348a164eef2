package chatclient

import (
	"sync"
	"time"
)

// Store keeps one ordered, deduplicated message list per chat, merging
// optimistic local inserts, live pushes, and bulk history fetches into a
// single view. All mutations run under one mutex: arrivals come from both
// the read loop and the UI, and the content-match replacement in Merge is
// not commutative with concurrent appends.
type Store struct {
	mu       sync.Mutex
	resolver UserResolver
	chats    map[string][]Message
	online   []string

	now func() time.Time
}

func NewStore(resolver UserResolver) *Store {
	return &Store{
		resolver: resolver,
		chats:    make(map[string][]Message),
		now:      time.Now,
	}
}

// Merge folds one normalized incoming message into a chat's list:
//  1. a message whose id is already present is dropped (idempotent
//     re-delivery);
//  2. a pending entry matching on content, sender, and receiver is replaced
//     in place, so order reflects send order rather than confirmation
//     arrival;
//  3. anything else is appended.
//
// Merge is pure: it never mutates its input slice.
func Merge(list []Message, m Message) []Message {
	for _, existing := range list {
		if existing.ID == m.ID {
			out := make([]Message, len(list))
			copy(out, list)
			return out
		}
	}

	for i, existing := range list {
		if existing.Pending() &&
			existing.Content == m.Content &&
			existing.SenderID == m.SenderID &&
			existing.ReceiverID == m.ReceiverID {
			out := make([]Message, len(list))
			copy(out, list)
			out[i] = m
			return out
		}
	}

	out := make([]Message, len(list)+1)
	copy(out, list)
	out[len(list)] = m
	return out
}

// Apply normalizes an incoming message and merges it into its chat's list.
// Malformed events (missing chat or id) are dropped, reported by the return
// value.
func (s *Store) Apply(m Message) bool {
	if m.ChatID == "" || m.ID == "" {
		return false
	}

	m = Normalize(m, s.resolver)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[m.ChatID] = Merge(s.chats[m.ChatID], m)
	return true
}

// SetMessages replaces a chat's entire list with an authoritative history
// snapshot, normalizing every entry. It bypasses Merge deliberately.
func (s *Store) SetMessages(chatID string, msgs []Message) {
	if chatID == "" {
		return
	}

	normalized := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		normalized = append(normalized, Normalize(m, s.resolver))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = normalized
}

// AddOptimistic inserts a locally-constructed pending message so the send
// shows immediately; the entry is replaced in place once the confirmation
// arrives. It bypasses Merge since there is nothing to reconcile against.
func (s *Store) AddOptimistic(chatID, senderID, receiverID, content string) Message {
	now := s.now()
	m := Normalize(Message{
		ID:         newPendingID(now),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		ReadStatus: false,
		Timestamp:  now,
		CreatedAt:  now,
	}, s.resolver)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = append(s.chats[chatID], m)
	return m
}

// MarkFailed flags a pending entry after its fallback send was rejected, so
// it is never left looking pending forever.
func (s *Store) MarkFailed(chatID, pendingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.chats[chatID]
	for i, m := range list {
		if m.ID == pendingID && m.Pending() {
			list[i].Failed = true
			return true
		}
	}
	return false
}

// Messages returns a copy of a chat's current list in display order.
func (s *Store) Messages(chatID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.chats[chatID]
	out := make([]Message, len(list))
	copy(out, list)
	return out
}

// OnlineUsers returns the most recent presence broadcast.
func (s *Store) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.online))
	copy(out, s.online)
	return out
}

// Store implements Handler so it can subscribe directly to a Client's event
// stream: confirmations and peer messages both funnel through Apply.

func (s *Store) OnMessage(m Message)     { s.Apply(m) }
func (s *Store) OnMessageSent(m Message) { s.Apply(m) }

func (s *Store) OnStatus(StatusEvent) {}

func (s *Store) OnOnlineUsers(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = ids
}
