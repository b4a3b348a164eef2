package entity

import "time"

type Message struct {
	ID         string    `json:"id" firestore:"id"`
	ChatID     string    `json:"chat_id" firestore:"chatId"`
	ListingID  string    `json:"listing_id,omitempty" firestore:"listingId,omitempty"`
	SenderID   string    `json:"sender_id" firestore:"senderId"`
	ReceiverID string    `json:"receiver_id" firestore:"receiverId"`
	Content    string    `json:"content" firestore:"content"`
	ReadStatus bool      `json:"read_status" firestore:"readStatus"`
	Timestamp  time.Time `json:"timestamp" firestore:"timestamp"`
	CreatedAt  time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt  time.Time `json:"updated_at" firestore:"updatedAt"`
}
