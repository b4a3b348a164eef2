package repository

import (
	"context"

	"campusmarket/internal/domain/entity"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	// Summaries resolves a batch of user ids to display summaries; unknown
	// ids are simply absent from the result.
	Summaries(ctx context.Context, ids []string) (map[string]entity.UserSummary, error)
}
