package repository

import (
	"context"

	"campusmarket/internal/domain/entity"
)

type ListingRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Listing, error)
}
