package repository

import (
	"context"
	"time"

	"campusmarket/internal/domain/entity"
)

type ChatRepository interface {
	Create(ctx context.Context, chat *entity.Chat) error
	GetByID(ctx context.Context, id string) (*entity.Chat, error)
	// GetByListingAndBuyer finds the one chat a buyer holds for a listing,
	// used to reuse an existing chat before creating a new one.
	GetByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Chat, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Chat, int64, error)
	// UpdateSummary sets the denormalized lastMessage/lastMessageTimestamp
	// fields on the parent chat.
	UpdateSummary(ctx context.Context, chatID, content string, ts time.Time) error

	// Message methods
	CreateMessage(ctx context.Context, message *entity.Message) error
	ListMessagesByChat(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error)
	UpdateMessageReadStatus(ctx context.Context, chatID, messageID string) error
}
