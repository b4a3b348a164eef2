package chatclient

import (
	"fmt"
	"strings"
	"time"
)

// pendingIDPrefix tags client-generated placeholder ids so a pending entry
// is distinguishable from a store-assigned record.
const pendingIDPrefix = "temp_"

// UserSummary is the display-ready expansion of a bare user id.
type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Message is the client-side message. The raw wire form carries bare
// sender/receiver ids; the normalized form additionally carries their
// display summaries.
type Message struct {
	ID         string       `json:"id"`
	ChatID     string       `json:"chat_id"`
	ListingID  string       `json:"listing_id,omitempty"`
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Receiver   *UserSummary `json:"receiver,omitempty"`
	Content    string       `json:"content"`
	ReadStatus bool         `json:"read_status"`
	Timestamp  time.Time    `json:"timestamp"`
	CreatedAt  time.Time    `json:"created_at"`

	// Failed marks an optimistic entry whose fallback send was rejected; it
	// is never set on a server-confirmed message.
	Failed bool `json:"-"`
}

// Pending reports whether the message still carries a client placeholder id.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, pendingIDPrefix)
}

// StatusEvent is a best-effort presence/typing signal.
type StatusEvent struct {
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id,omitempty"`
	Status   string `json:"status"`
}

// UserResolver supplies display summaries for bare user ids.
type UserResolver interface {
	Lookup(id string) (UserSummary, bool)
}

// MapResolver is a UserResolver over a fixed map.
type MapResolver map[string]UserSummary

func (r MapResolver) Lookup(id string) (UserSummary, bool) {
	s, ok := r[id]
	return s, ok
}

// Normalize expands bare sender/receiver ids into display summaries and
// coerces the timestamp. It is idempotent: normalizing an already-normalized
// message changes nothing.
func Normalize(m Message, resolver UserResolver) Message {
	if m.Sender == nil {
		m.Sender = summaryFor(m.SenderID, resolver)
	}
	if m.Receiver == nil {
		m.Receiver = summaryFor(m.ReceiverID, resolver)
	}
	if m.SenderID == "" && m.Sender != nil {
		m.SenderID = m.Sender.ID
	}
	if m.ReceiverID == "" && m.Receiver != nil {
		m.ReceiverID = m.Receiver.ID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = m.CreatedAt
	}
	return m
}

func summaryFor(id string, resolver UserResolver) *UserSummary {
	if id == "" {
		return nil
	}
	if resolver != nil {
		if s, ok := resolver.Lookup(id); ok {
			return &s
		}
	}
	// Unknown user: fall back to a bare-id summary so display never blocks
	// on directory lookups.
	return &UserSummary{ID: id}
}

func newPendingID(now time.Time) string {
	return fmt.Sprintf("%s%d", pendingIDPrefix, now.UnixNano())
}
