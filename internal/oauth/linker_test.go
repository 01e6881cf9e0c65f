package oauth

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-server/internal/credentials"
	"account-server/internal/domain"
	"account-server/internal/events"
	"account-server/internal/repository"
	"account-server/internal/service"
)

// memRepo enforces the external identity uniqueness rule under a lock,
// like the sqlite index does.
type memRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[string]*domain.User{}}
}

func (r *memRepo) Init(context.Context) error { return nil }

func (r *memRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if user.ExternalID != "" && existing.Provider == user.Provider && existing.ExternalID == user.ExternalID {
			return repository.ErrExternalIDTaken
		}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return nil, repository.ErrNotFound
}

func (r *memRepo) GetByExternalID(_ context.Context, provider domain.Provider, externalID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Provider == provider && user.ExternalID == externalID {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memRepo) List(context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, *user)
	}
	return out, nil
}

func newTestLinker(repo repository.UserRepository) *Linker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	users := service.NewUserService(repo, credentials.NewEngine(), events.NewBus())
	return NewLinker(users, repo, nil, logger)
}

func TestResolveOrCreate_Idempotent(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	linker := newTestLinker(repo)
	ctx := context.Background()

	profile := Profile{ID: "fb-7", Name: "Alice", Email: "alice@example.com", Raw: []byte(`{"id":"fb-7"}`)}

	first, err := linker.ResolveOrCreate(ctx, domain.ProviderFacebook, profile)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderFacebook, first.Provider)
	assert.Equal(t, domain.RoleUser, first.Role)
	assert.Equal(t, "fb-7", first.ExternalID)

	second, err := linker.ResolveOrCreate(ctx, domain.ProviderFacebook, profile)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestResolveOrCreate_Concurrent(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	linker := newTestLinker(repo)
	profile := Profile{ID: "g-9", Name: "Bob", Email: "bob@example.com", Raw: []byte(`{"sub":"g-9"}`)}

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := linker.ResolveOrCreate(context.Background(), domain.ProviderGoogle, profile)
			if err != nil {
				t.Errorf("ResolveOrCreate: %v", err)
				return
			}
			ids[i] = user.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i], "every caller must resolve to the same user")
	}

	users, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1, "at most one user per external identity")
}

// raceRepo simulates losing the find-or-create race: the first lookup
// misses, the insert collides, the re-read finds the winner.
type raceRepo struct {
	*memRepo
	winner *domain.User

	mu      sync.Mutex
	lookups int
}

func (r *raceRepo) GetByExternalID(ctx context.Context, provider domain.Provider, externalID string) (*domain.User, error) {
	r.mu.Lock()
	r.lookups++
	first := r.lookups == 1
	r.mu.Unlock()
	if first {
		return nil, repository.ErrNotFound
	}
	clone := *r.winner
	return &clone, nil
}

func (r *raceRepo) Create(context.Context, *domain.User) error {
	return repository.ErrExternalIDTaken
}

func TestResolveOrCreate_LostRaceTreatedAsFound(t *testing.T) {
	t.Parallel()

	winner := &domain.User{
		ID:         "winner-id",
		Provider:   domain.ProviderTwitter,
		ExternalID: "tw-1",
		Role:       domain.RoleUser,
	}
	repo := &raceRepo{memRepo: newMemRepo(), winner: winner}
	linker := newTestLinker(repo)

	user, err := linker.ResolveOrCreate(context.Background(), domain.ProviderTwitter, Profile{ID: "tw-1", Name: "Bird"})
	require.NoError(t, err)
	assert.Equal(t, "winner-id", user.ID)
}

func TestResolveOrCreate_RejectsEmptyID(t *testing.T) {
	t.Parallel()

	linker := newTestLinker(newMemRepo())
	_, err := linker.ResolveOrCreate(context.Background(), domain.ProviderFacebook, Profile{Name: "NoID"})
	assert.Error(t, err)
}
