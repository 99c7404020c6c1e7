package storage

import (
	"context"

	"mediabin/internal/models"
)

// Repository exposes the datastore operations required by the API handlers.
// Two implementations exist: the JSON-file Storage and the Postgres-backed
// repository selected via the storage driver flag.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)

	CreateMedia(params CreateMediaParams) (models.Media, error)
	GetMedia(id string) (models.Media, bool)
	UpdateMedia(id string, update MediaUpdate) (models.Media, error)
	DeleteMedia(id string) error

	ListMedia() []models.Media
	ListLatestMedia(limit int) []models.Media
	SearchMedia(query string) ([]models.Media, error)
	ListMediaByOwner(ownerID string) ([]models.Media, error)
}

var _ Repository = (*Storage)(nil)
