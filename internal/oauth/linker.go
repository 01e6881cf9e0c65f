package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"account-server/internal/domain"
	"account-server/internal/repository"
	"account-server/internal/service"
	"account-server/internal/storage"
)

// Linker resolves external identities to local users, creating an
// account on first sight.
type Linker struct {
	users   service.UserService
	repo    repository.UserRepository
	archive storage.ProfileArchiver
	logger  *logrus.Logger
}

// NewLinker builds a Linker. archive may be nil, in which case raw
// profiles are only kept on the user record.
func NewLinker(users service.UserService, repo repository.UserRepository, archive storage.ProfileArchiver, logger *logrus.Logger) *Linker {
	return &Linker{users: users, repo: repo, archive: archive, logger: logger}
}

// ResolveOrCreate returns the local user linked to the external
// identity, creating one when none exists. Two concurrent first-logins
// for the same identity race on the not-found/create window; the unique
// (provider, external id) constraint makes exactly one insert win, and
// the loser re-reads the winner's record. At most one user ever exists
// per external id.
func (l *Linker) ResolveOrCreate(ctx context.Context, provider domain.Provider, profile Profile) (*domain.User, error) {
	if profile.ID == "" {
		return nil, fmt.Errorf("external profile has no id")
	}

	existing, err := l.repo.GetByExternalID(ctx, provider, profile.ID)
	if err == nil {
		return existing.Sanitized(), nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user, err := l.users.Create(ctx, service.CreateUser{
		Name:       profile.Name,
		Email:      profile.Email,
		Role:       domain.RoleUser,
		Provider:   provider,
		ExternalID: profile.ID,
		RawProfile: profile.Raw,
	})
	if err != nil {
		if errors.Is(err, repository.ErrExternalIDTaken) {
			// Lost the race; the identity is linked now.
			winner, lookupErr := l.repo.GetByExternalID(ctx, provider, profile.ID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return winner.Sanitized(), nil
		}
		return nil, err
	}

	l.archiveProfile(ctx, provider, profile)
	return user, nil
}

// archiveProfile stores the raw payload for audit. Best effort: a
// failed archive is logged, never surfaced to the login flow.
func (l *Linker) archiveProfile(ctx context.Context, provider domain.Provider, profile Profile) {
	if l.archive == nil || len(profile.Raw) == 0 {
		return
	}
	location, err := l.archive.ArchiveProfile(ctx, string(provider), profile.ID, profile.Raw)
	if err != nil {
		l.logger.Warnf("archive %s profile %s: %v", provider, profile.ID, err)
		return
	}
	l.logger.Debugf("archived %s profile %s to %s", provider, profile.ID, location)
}
