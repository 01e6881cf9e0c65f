package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"account-server/internal/credentials"
	"account-server/internal/domain"
	"account-server/internal/events"
	"account-server/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	// Unknown email and wrong password both map here so a caller cannot
	// probe which addresses have accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIncorrectPassword indicates the current password check failed on a password change.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrInvalidPassword indicates a password change would leave a local
	// account without a usable password.
	ErrInvalidPassword = errors.New("invalid password")
)

// ValidationError carries a field-level message suitable for returning
// to the caller verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// CreateUser is the draft record accepted by Create. Zero values get
// the usual defaults: provider local, role user.
type CreateUser struct {
	Name       string
	Email      string
	Password   string
	Role       domain.Role
	Provider   domain.Provider
	ExternalID string
	RawProfile []byte
}

// UserService owns user lifecycle rules: validation, credential
// generation, and lifecycle event emission.
type UserService interface {
	Create(ctx context.Context, draft CreateUser) (*domain.User, error)
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Remove(ctx context.Context, id string) error
}

type userService struct {
	users repository.UserRepository
	creds *credentials.Engine
	bus   events.Bus
}

func NewUserService(users repository.UserRepository, creds *credentials.Engine, bus events.Bus) UserService {
	return &userService{users: users, creds: creds, bus: bus}
}

// Create validates the draft, derives credentials for local accounts,
// persists, and publishes the save event.
func (s *userService) Create(ctx context.Context, draft CreateUser) (*domain.User, error) {
	user := &domain.User{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(draft.Name),
		Email:      strings.ToLower(strings.TrimSpace(draft.Email)),
		Role:       draft.Role,
		Provider:   draft.Provider,
		ExternalID: draft.ExternalID,
		RawProfile: draft.RawProfile,
	}
	if user.Provider == "" {
		user.Provider = domain.ProviderLocal
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	if err := s.validate(ctx, user, draft.Password); err != nil {
		return nil, err
	}

	if user.Provider == domain.ProviderLocal {
		if err := s.assignCredentials(user, draft.Password); err != nil {
			return nil, err
		}
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, &ValidationError{Field: "email", Message: msgEmailTaken}
		}
		return nil, err
	}

	s.publishSave(user)
	return user.Sanitized(), nil
}

// Register creates a local account with the default role, regardless of
// what the caller asks for.
func (s *userService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	return s.Create(ctx, CreateUser{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     domain.RoleUser,
		Provider: domain.ProviderLocal,
	})
}

// Authenticate verifies a local login. The caller cannot distinguish an
// unknown email from a wrong password.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.creds.Authenticate(password, user.PasswordHash, user.Salt) {
		return nil, ErrInvalidCredentials
	}
	return user.Sanitized(), nil
}

// ChangePassword swaps the stored credential after verifying the old
// password. The stored hash and salt are untouched on any failure, and
// a successful change regenerates both.
func (s *userService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !s.creds.Authenticate(oldPassword, user.PasswordHash, user.Salt) {
		return ErrIncorrectPassword
	}

	if strings.TrimSpace(newPassword) == "" && user.Provider == domain.ProviderLocal {
		return ErrInvalidPassword
	}

	if err := s.assignCredentials(user, newPassword); err != nil {
		return err
	}
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.publishSave(user)
	return nil
}

func (s *userService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, len(users))
	for i := range users {
		out[i] = *users[i].Sanitized()
	}
	return out, nil
}

func (s *userService) Remove(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(events.TopicUserRemove, id)
	s.bus.Publish(events.TopicUserRemove+"."+id, id)
	return nil
}

const (
	msgEmailBlank    = "Email cannot be blank"
	msgPasswordBlank = "Password cannot be blank"
	msgEmailTaken    = "The specified email address is already in use."
)

// validate runs the validators in a fixed order and stops at the first
// failure. Each validator takes the candidate record explicitly.
func (s *userService) validate(ctx context.Context, user *domain.User, password string) error {
	checks := []func(context.Context, *domain.User, string) error{
		s.validateEmailPresent,
		s.validatePasswordPresent,
		s.validateRole,
		s.validateEmailAvailable,
	}
	for _, check := range checks {
		if err := check(ctx, user, password); err != nil {
			return err
		}
	}
	return nil
}

func (s *userService) validateEmailPresent(_ context.Context, user *domain.User, _ string) error {
	if user.Provider.External() {
		return nil
	}
	if user.Email == "" {
		return &ValidationError{Field: "email", Message: msgEmailBlank}
	}
	return nil
}

func (s *userService) validatePasswordPresent(_ context.Context, user *domain.User, password string) error {
	if user.Provider.External() {
		return nil
	}
	if password == "" {
		return &ValidationError{Field: "password", Message: msgPasswordBlank}
	}
	return nil
}

func (s *userService) validateRole(_ context.Context, user *domain.User, _ string) error {
	if !user.Role.Valid() {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("Role %q is not valid", user.Role)}
	}
	return nil
}

// validateEmailAvailable needs a store lookup; a lookup failure is an
// error in its own right, never a silent pass.
func (s *userService) validateEmailAvailable(ctx context.Context, user *domain.User, _ string) error {
	if user.Provider.External() {
		return nil
	}
	existing, err := s.users.GetByEmail(ctx, user.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check email uniqueness: %w", err)
	}
	if existing.ID == user.ID {
		return nil
	}
	return &ValidationError{Field: "email", Message: msgEmailTaken}
}

// assignCredentials generates a fresh salt and derives the hash. A new
// salt accompanies every password, including changes.
func (s *userService) assignCredentials(user *domain.User, password string) error {
	salt, err := s.creds.MakeSalt(0)
	if err != nil {
		return err
	}
	hash, err := s.creds.Hash(password, salt)
	if err != nil {
		return err
	}
	user.Salt = salt
	user.PasswordHash = hash
	return nil
}

func (s *userService) publishSave(user *domain.User) {
	snapshot := user.Sanitized()
	s.bus.Publish(events.TopicUserSave, snapshot)
	s.bus.Publish(events.TopicUserSave+"."+user.ID, snapshot)
}
