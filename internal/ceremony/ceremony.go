package ceremony

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andyleap/passkey-verifier/internal/models"
	"github.com/andyleap/passkey-verifier/internal/storage"
	"github.com/andyleap/passkey-verifier/internal/verify"
)

const (
	// DefaultChallengeTTL bounds how long a signed response may take to come
	// back. Expiry is enforced by the challenge store, not by polling.
	DefaultChallengeTTL = 60 * time.Second

	// challengeBytes is the entropy of an issued challenge. 32 bytes makes
	// guessing a live challenge within its TTL infeasible.
	challengeBytes = 32
)

// Config is the relying-party configuration the engine needs. It is resolved
// once at startup and passed in explicitly.
type Config struct {
	RPID         string
	RPName       string
	ChallengeTTL time.Duration
}

// Engine orchestrates the challenge lifecycle: issuance, one-time
// consumption, delegated cryptographic verification, and credential commits.
// It holds no state between requests beyond what lives in the stores.
type Engine struct {
	cfg         Config
	challenges  storage.ChallengeStore
	credentials storage.CredentialStore
	verifier    verify.Verifier
}

func New(cfg Config, challenges storage.ChallengeStore, credentials storage.CredentialStore, verifier verify.Verifier) *Engine {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}

	return &Engine{
		cfg:         cfg,
		challenges:  challenges,
		credentials: credentials,
		verifier:    verifier,
	}
}

// IssuedChallenge is returned to the caller so the client can construct its
// signed response. SubjectName is only populated for registration.
type IssuedChallenge struct {
	Challenge   string    `json:"challenge"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RPID        string    `json:"rpId"`
	RPName      string    `json:"rpName"`
	SubjectName string    `json:"userName,omitempty"`
}

// RegistrationResult reports a successful registration. PublicKey is the
// base64-encoded key material as stored.
type RegistrationResult struct {
	CredentialID string `json:"credentialId"`
	PublicKey    string `json:"publicKey"`
}

// AuthenticationResult reports a successful authentication. No secret
// material is returned.
type AuthenticationResult struct {
	Verified bool `json:"verified"`
}

// Stats is observability output only; it carries no correctness contract.
type Stats struct {
	Challenges  models.ChallengeStats `json:"challenges"`
	Credentials int64                 `json:"credentials"`
}

// IssueChallenge generates a random challenge bound to the given action and
// stores it with the configured TTL. The challenge value itself is the
// storage key.
func (e *Engine) IssueChallenge(ctx context.Context, action models.Action, subjectHint string) (*IssuedChallenge, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	now := time.Now()
	pending := &models.PendingChallenge{
		Challenge:   value,
		Action:      action,
		SubjectHint: subjectHint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.ChallengeTTL),
	}

	if err := e.challenges.Put(ctx, pending, e.cfg.ChallengeTTL); err != nil {
		slog.Error("Failed to store challenge", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	issued := &IssuedChallenge{
		Challenge: value,
		ExpiresAt: pending.ExpiresAt,
		RPID:      e.cfg.RPID,
		RPName:    e.cfg.RPName,
	}
	if action == models.ActionRegister {
		issued.SubjectName = subjectHint
		if issued.SubjectName == "" {
			issued.SubjectName = "user"
		}
	}

	return issued, nil
}

// VerifyRegistration consumes a registration challenge, verifies the
// attestation against it, and stores the new credential.
func (e *Engine) VerifyRegistration(ctx context.Context, challenge string, attestation []byte) (*RegistrationResult, error) {
	pending, err := e.consume(ctx, challenge, models.ActionRegister)
	if err != nil {
		return nil, err
	}

	registration, err := e.verifier.VerifyRegistration(ctx, pending, attestation)
	if err != nil {
		slog.Warn("Registration verification failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	now := time.Now()
	credential := &models.Credential{
		CredentialID:   base64.RawURLEncoding.EncodeToString(registration.CredentialID),
		PublicKey:      registration.PublicKey,
		Counter:        registration.Counter,
		CounterEnabled: registration.Counter > 0,
		SubjectID:      pending.SubjectHint,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.credentials.Create(ctx, credential); err != nil {
		if errors.Is(err, storage.ErrDuplicateCredential) {
			slog.Error("Credential ID collision during registration", "credentialId", credential.CredentialID)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return &RegistrationResult{
		CredentialID: credential.CredentialID,
		PublicKey:    base64.StdEncoding.EncodeToString(registration.PublicKey),
	}, nil
}

// VerifyAuthentication consumes an authentication challenge, verifies the
// assertion against the stored credential, and advances its counter.
func (e *Engine) VerifyAuthentication(ctx context.Context, challenge string, assertion []byte) (*AuthenticationResult, error) {
	pending, err := e.consume(ctx, challenge, models.ActionAuthenticate)
	if err != nil {
		return nil, err
	}

	credentialID, err := e.verifier.AssertionCredentialID(assertion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	credential, err := e.credentials.FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	result, err := e.verifier.VerifyAuthentication(ctx, pending, credential, assertion)
	if err != nil {
		slog.Warn("Authentication verification failed", "credentialId", credentialID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if err := e.advanceCounter(ctx, credential, result.NewCounter); err != nil {
		return nil, err
	}

	return &AuthenticationResult{Verified: true}, nil
}

// Stats reports pending challenge and credential counts.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	challengeStats, err := e.challenges.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	credentialCount, err := e.credentials.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return &Stats{
		Challenges:  challengeStats,
		Credentials: credentialCount,
	}, nil
}

// consume atomically takes the pending challenge before any verification
// work, so a concurrent duplicate submission always loses the race. A
// challenge issued for a different action is consumed and reported exactly
// like a missing one.
func (e *Engine) consume(ctx context.Context, challenge string, want models.Action) (*models.PendingChallenge, error) {
	pending, err := e.challenges.Take(ctx, challenge)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if pending.Action != want {
		slog.Warn("Challenge consumed with mismatched action", "want", want, "got", pending.Action)
		return nil, ErrChallengeNotFound
	}

	return pending, nil
}

// advanceCounter applies the counter policy: an advancing counter is
// committed through the store's conditional update, a counter pinned at zero
// is accepted for authenticators that have never reported one, and anything
// else is treated as a clone signal without touching storage.
func (e *Engine) advanceCounter(ctx context.Context, credential *models.Credential, newCounter uint32) error {
	if newCounter > credential.Counter {
		err := e.credentials.UpdateCounter(ctx, credential.CredentialID, newCounter)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrStaleCounter):
			// A concurrent authentication advanced past us first.
			slog.Warn("Counter advance lost race", "credentialId", credential.CredentialID, "counter", newCounter)
			return ErrReplaySuspected
		case errors.Is(err, storage.ErrNotFound):
			return ErrCredentialNotFound
		default:
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	if newCounter == 0 && credential.Counter == 0 && !credential.CounterEnabled {
		return nil
	}

	slog.Warn("Non-advancing signature counter, possible cloned authenticator",
		"credentialId", credential.CredentialID, "stored", credential.Counter, "reported", newCounter)
	return ErrReplaySuspected
}
