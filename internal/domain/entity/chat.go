package entity

import "time"

type Chat struct {
	ID                   string    `json:"id" firestore:"id"`
	ListingID            string    `json:"listing_id" firestore:"listingId"`
	SellerID             string    `json:"seller_id" firestore:"sellerId"`
	BuyerID              string    `json:"buyer_id" firestore:"buyerId"`
	LastMessage          string    `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageTimestamp time.Time `json:"last_message_timestamp,omitempty" firestore:"lastMessageTimestamp,omitempty"`
	CreatedAt            time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt            time.Time `json:"updated_at" firestore:"updatedAt"`
}

// HasParticipant reports whether the user owns either side of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	return userID == c.SellerID || userID == c.BuyerID
}

// OtherParticipant returns the counterpart of userID in the chat.
func (c *Chat) OtherParticipant(userID string) string {
	if userID == c.BuyerID {
		return c.SellerID
	}
	return c.BuyerID
}
