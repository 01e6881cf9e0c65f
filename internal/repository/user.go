package repository

import (
	"context"
	"errors"

	"account-server/internal/domain"
)

var (
	// ErrNotFound indicates no user matched the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken indicates the email unique constraint rejected a write.
	ErrEmailTaken = errors.New("email already in use")
	// ErrExternalIDTaken indicates another record already links the same
	// (provider, external id) pair.
	ErrExternalIDTaken = errors.New("external identity already linked")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByExternalID(ctx context.Context, provider domain.Provider, externalID string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.User, error)
}
