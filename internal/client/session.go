package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"account-server/internal/domain"
)

// State of the session cache.
type State int

const (
	StateAnonymous State = iota
	StateResolving
	StateAuthenticated
	StateError
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Subscriber receives the new user snapshot after every transition to
// Authenticated or Anonymous.
type Subscriber func(User)

// Cache holds the authoritative current-user state on the client. It
// persists the token and a denormalized user snapshot, re-validating
// the snapshot against the server on startup. Every mutating call
// claims a new generation; a response tagged with an older generation
// is discarded, so a stale fetch can never overwrite a newer state.
type Cache struct {
	api     API
	storage Storage

	mu         sync.Mutex
	state      State
	current    User
	token      string
	generation uint64
	nextSubID  int
	subs       map[int]Subscriber
}

func NewCache(api API, storage Storage) *Cache {
	return &Cache{
		api:     api,
		storage: storage,
		state:   StateAnonymous,
		subs:    map[int]Subscriber{},
	}
}

// Subscribe registers a handler for user snapshot changes and returns
// an unsubscribe func.
func (c *Cache) Subscribe(fn Subscriber) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Hydrate resolves a persisted token into a fresh user snapshot. With
// no persisted token the cache stays Anonymous silently. A token that
// no longer resolves is cleared and subscribers hear the anonymous
// snapshot.
func (c *Cache) Hydrate(ctx context.Context) error {
	tok, ok := c.storage.Get(StorageKeyToken)
	if !ok || tok == "" {
		return nil
	}

	c.mu.Lock()
	c.state = StateResolving
	// Warm start from the persisted snapshot; it is a cache and gets
	// replaced (or discarded) by the server's answer below.
	if snapshot, ok := c.storage.Get(StorageKeyUser); ok {
		var warm User
		if err := json.Unmarshal([]byte(snapshot), &warm); err == nil {
			c.current = warm
		}
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	user, err := c.api.Me(ctx, tok)
	if err != nil {
		c.clearSession(gen, errorState(err))
		return err
	}

	c.applySession(gen, tok, *user)
	return nil
}

// Login authenticates with email/password. On success the new snapshot
// replaces the old and subscribers are notified exactly once. On
// failure the session is cleared, as a failed login leaves no
// partially-authenticated state behind.
func (c *Cache) Login(ctx context.Context, email, password string) (User, error) {
	gen := c.nextGeneration()

	tok, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.clearSession(gen, errorState(err))
		return User{}, err
	}

	user, err := c.api.Me(ctx, tok)
	if err != nil {
		c.clearSession(gen, errorState(err))
		return User{}, err
	}

	c.applySession(gen, tok, *user)
	return *user, nil
}

// Register creates an account and logs it in, with the same
// notification and failure behavior as Login.
func (c *Cache) Register(ctx context.Context, name, email, password string) (User, error) {
	gen := c.nextGeneration()

	tok, err := c.api.Register(ctx, name, email, password)
	if err != nil {
		c.clearSession(gen, errorState(err))
		return User{}, err
	}

	user, err := c.api.Me(ctx, tok)
	if err != nil {
		c.clearSession(gen, errorState(err))
		return User{}, err
	}

	c.applySession(gen, tok, *user)
	return *user, nil
}

// Logout drops the session: persisted token and snapshot removed,
// state Anonymous, subscribers notified.
func (c *Cache) Logout() {
	gen := c.nextGeneration()
	c.clearSession(gen, StateAnonymous)
}

// ChangePassword rotates the current user's password.
func (c *Cache) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	c.mu.Lock()
	tok, id := c.token, c.current.ID
	c.mu.Unlock()
	if tok == "" || id == "" {
		return ErrUnauthorized
	}
	return c.api.ChangePassword(ctx, tok, id, oldPassword, newPassword)
}

// Refresh re-fetches the current user from the server, subject to the
// same stale-response protection as every other transition.
func (c *Cache) Refresh(ctx context.Context) (User, error) {
	c.mu.Lock()
	tok := c.token
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	if tok == "" {
		return User{}, ErrUnauthorized
	}

	user, err := c.api.Me(ctx, tok)
	if err != nil {
		c.clearSession(gen, errorState(err))
		return User{}, err
	}

	c.applySession(gen, tok, *user)
	return *user, nil
}

// CurrentUser returns the cached snapshot without touching the network.
func (c *Cache) CurrentUser() User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the cache state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the bearer token, empty when logged out.
func (c *Cache) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// IsLoggedIn reports whether the cached snapshot has an identity.
func (c *Cache) IsLoggedIn() bool {
	return c.CurrentUser().ID != ""
}

// IsAdmin reports whether the cached snapshot carries the admin role.
func (c *Cache) IsAdmin() bool {
	return c.CurrentUser().Role == domain.RoleAdmin
}

// IsLoggedInRefreshed answers IsLoggedIn after re-validating with the
// server.
func (c *Cache) IsLoggedInRefreshed(ctx context.Context) bool {
	if _, err := c.Refresh(ctx); err != nil {
		return false
	}
	return c.IsLoggedIn()
}

// IsAdminRefreshed answers IsAdmin after re-validating with the server.
func (c *Cache) IsAdminRefreshed(ctx context.Context) bool {
	if _, err := c.Refresh(ctx); err != nil {
		return false
	}
	return c.IsAdmin()
}

// nextGeneration claims authority for a new transition, invalidating
// any in-flight responses from older ones.
func (c *Cache) nextGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

// applySession installs an authenticated session, unless a newer
// generation has already superseded this one.
func (c *Cache) applySession(gen uint64, tok string, user User) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.token = tok
	c.current = user
	c.state = StateAuthenticated
	_ = c.storage.Set(StorageKeyToken, tok)
	if snapshot, err := json.Marshal(user); err == nil {
		_ = c.storage.Set(StorageKeyUser, string(snapshot))
	}
	subs, snapshot := c.snapshotSubsLocked()
	c.mu.Unlock()

	notify(subs, snapshot)
}

// clearSession drops the session, unless superseded. The resulting
// snapshot is anonymous either way; the state records whether this was
// a plain logout/auth rejection or an unexpected failure.
func (c *Cache) clearSession(gen uint64, state State) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.current = User{}
	c.state = state
	_ = c.storage.Delete(StorageKeyToken)
	_ = c.storage.Delete(StorageKeyUser)
	subs, snapshot := c.snapshotSubsLocked()
	c.mu.Unlock()

	notify(subs, snapshot)
}

func (c *Cache) snapshotSubsLocked() ([]Subscriber, User) {
	subs := make([]Subscriber, 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs, c.current
}

func notify(subs []Subscriber, snapshot User) {
	for _, fn := range subs {
		fn(snapshot)
	}
}

// errorState maps a failure to the state the cache degrades into: auth
// rejections land in Anonymous, anything unexpected in Error. Both
// clear the persisted session.
func errorState(err error) State {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return StateAnonymous
	}
	return StateError
}
