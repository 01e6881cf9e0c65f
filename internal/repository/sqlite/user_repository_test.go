package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-server/internal/domain"
	"account-server/internal/repository"
)

func newTestRepo(t *testing.T) repository.UserRepository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func localUser(email string) *domain.User {
	return &domain.User{
		ID:           uuid.NewString(),
		Name:         "Someone",
		Email:        email,
		Role:         domain.RoleUser,
		Provider:     domain.ProviderLocal,
		PasswordHash: "hash",
		Salt:         "salt",
	}
}

func externalUser(provider domain.Provider, externalID string) *domain.User {
	return &domain.User{
		ID:         uuid.NewString(),
		Name:       "External Someone",
		Role:       domain.RoleUser,
		Provider:   provider,
		ExternalID: externalID,
		RawProfile: []byte(`{"id":"` + externalID + `"}`),
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	user := localUser("alice@example.com")
	require.NoError(t, repo.Create(ctx, user))
	assert.False(t, user.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
	assert.Equal(t, user.PasswordHash, got.PasswordHash)

	// Lookup lowercases; records hold lowercase email already.
	got, err = repo.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreate_DuplicateLocalEmail(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, localUser("alice@example.com")))

	err := repo.Create(ctx, localUser("alice@example.com"))
	assert.ErrorIs(t, err, repository.ErrEmailTaken)

	// The email index only covers local accounts; an external record
	// may carry the same address.
	external := externalUser(domain.ProviderGoogle, "g-1")
	external.Email = "alice@example.com"
	assert.NoError(t, repo.Create(ctx, external))
}

func TestCreate_DuplicateExternalID(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, externalUser(domain.ProviderFacebook, "fb-1")))

	err := repo.Create(ctx, externalUser(domain.ProviderFacebook, "fb-1"))
	assert.ErrorIs(t, err, repository.ErrExternalIDTaken)

	// Same external id under a different provider is a different identity.
	assert.NoError(t, repo.Create(ctx, externalUser(domain.ProviderTwitter, "fb-1")))

	got, err := repo.GetByExternalID(ctx, domain.ProviderFacebook, "fb-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderFacebook, got.Provider)
	assert.JSONEq(t, `{"id":"fb-1"}`, string(got.RawProfile))
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	user := localUser("alice@example.com")
	require.NoError(t, repo.Create(ctx, user))

	user.PasswordHash = "new-hash"
	user.Salt = "new-salt"
	require.NoError(t, repo.Update(ctx, user))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Equal(t, "new-salt", got.Salt)

	missing := localUser("ghost@example.com")
	assert.ErrorIs(t, repo.Update(ctx, missing), repository.ErrNotFound)
}

func TestDeleteAndList(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	first := localUser("a@example.com")
	second := localUser("b@example.com")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), repository.ErrNotFound)

	users, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, second.ID, users[0].ID)
}
