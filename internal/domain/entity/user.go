package entity

import "time"

type User struct {
	ID        string    `json:"id" firestore:"id"`
	Email     string    `json:"email" firestore:"email"`
	FirstName string    `json:"first_name" firestore:"firstName"`
	LastName  string    `json:"last_name" firestore:"lastName"`
	Phone     string    `json:"phone,omitempty" firestore:"phone,omitempty"`
	Campus    string    `json:"campus,omitempty" firestore:"campus,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty" firestore:"avatarURL,omitempty"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// UserSummary is the display-ready projection embedded in normalized messages.
type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
}
