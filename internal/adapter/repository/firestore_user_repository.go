package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusmarket/internal/domain/entity"
	"campusmarket/internal/domain/repository"
	"campusmarket/pkg/errors"
	"campusmarket/pkg/logger"
)

type firestoreUserRepository struct {
	client *firestore.Client
}

func NewFirestoreUserRepository(client *firestore.Client) repository.UserRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

func (r *firestoreUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	doc, err := r.client.Collection("users").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", nil)
		}
		return nil, errors.Internal("Failed to get user", err)
	}

	var user entity.User
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse user data", err)
	}

	return &user, nil
}

func (r *firestoreUserRepository) Summaries(ctx context.Context, ids []string) (map[string]entity.UserSummary, error) {
	summaries := make(map[string]entity.UserSummary, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := summaries[id]; ok {
			continue
		}

		user, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, "NOT_FOUND") {
				logger.Warn("User %s not found while resolving summaries", id)
				continue
			}
			return nil, err
		}
		summaries[id] = user.Summary()
	}

	return summaries, nil
}
