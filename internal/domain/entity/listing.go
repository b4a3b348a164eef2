package entity

import "time"

// Listing is the sale item a chat is anchored to. Listing CRUD lives outside
// the chat core; the delivery protocol only reads the owner for seller
// resolution.
type Listing struct {
	ID          string    `json:"id" firestore:"id"`
	OwnerID     string    `json:"owner_id" firestore:"ownerId"`
	Title       string    `json:"title" firestore:"title"`
	Description string    `json:"description,omitempty" firestore:"description,omitempty"`
	Price       float64   `json:"price" firestore:"price"`
	Status      string    `json:"status" firestore:"status"` // "active", "sold", "removed"
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updatedAt"`
}
