package storage

import (
	"context"
	"errors"
	"time"

	"github.com/andyleap/passkey-verifier/internal/models"
)

var (
	// ErrNotFound is returned when a challenge or credential does not exist.
	// Expired challenges are indistinguishable from absent ones.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateCredential is returned by Create when the credential ID
	// already exists.
	ErrDuplicateCredential = errors.New("storage: duplicate credential")

	// ErrStaleCounter is returned by UpdateCounter when the stored counter is
	// not strictly below the new value. The stored counter is left unchanged.
	ErrStaleCounter = errors.New("storage: stale counter")
)

// ChallengeStore holds pending challenges with per-entry TTL. Entries become
// unreachable once their TTL elapses; lazy expiry is acceptable.
type ChallengeStore interface {
	Put(ctx context.Context, challenge *models.PendingChallenge, ttl time.Duration) error
	Get(ctx context.Context, challenge string) (*models.PendingChallenge, error)

	// Take atomically retrieves and deletes a challenge. Concurrent callers
	// presenting the same challenge value observe at most one hit.
	Take(ctx context.Context, challenge string) (*models.PendingChallenge, error)

	Delete(ctx context.Context, challenge string) error
	Stats(ctx context.Context) (models.ChallengeStats, error)
}

// CredentialStore durably holds registered credentials keyed by credential ID.
type CredentialStore interface {
	Create(ctx context.Context, credential *models.Credential) error
	FindByID(ctx context.Context, credentialID string) (*models.Credential, error)

	// UpdateCounter advances the stored counter to newCounter only if the
	// stored value is strictly lower, so concurrent verifications cannot
	// regress the counter between check and write.
	UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) error

	Count(ctx context.Context) (int64, error)
}
