package storage

import "context"

// ProfileArchiver keeps raw external profile payloads for audit and
// debugging. Implementations return the location the payload was
// written to.
type ProfileArchiver interface {
	ArchiveProfile(ctx context.Context, provider, externalID string, payload []byte) (string, error)
}
