package storage

import (
	"context"
	"sync"
	"time"

	"github.com/andyleap/passkey-verifier/internal/models"
)

// MemoryChallengeStore keeps pending challenges in process memory. Not
// persistent and not shared across instances; intended for development and
// tests.
type MemoryChallengeStore struct {
	challenges map[string]*models.PendingChallenge
	mu         sync.Mutex
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	store := &MemoryChallengeStore{
		challenges: make(map[string]*models.PendingChallenge),
	}

	// Start background cleanup routine
	go store.cleanupRoutine()

	return store
}

func (m *MemoryChallengeStore) Put(ctx context.Context, challenge *models.PendingChallenge, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.challenges[challenge.Challenge] = challenge
	return nil
}

func (m *MemoryChallengeStore) Get(ctx context.Context, challenge string) (*models.PendingChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, exists := m.challenges[challenge]
	if !exists {
		return nil, ErrNotFound
	}

	if pending.Expired(time.Now()) {
		delete(m.challenges, challenge)
		return nil, ErrNotFound
	}

	return pending, nil
}

func (m *MemoryChallengeStore) Take(ctx context.Context, challenge string) (*models.PendingChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, exists := m.challenges[challenge]
	if !exists {
		return nil, ErrNotFound
	}

	// Removal happens under the same lock as the lookup, so a concurrent
	// Take of the same challenge value can never observe a second hit.
	delete(m.challenges, challenge)

	if pending.Expired(time.Now()) {
		return nil, ErrNotFound
	}

	return pending, nil
}

func (m *MemoryChallengeStore) Delete(ctx context.Context, challenge string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.challenges, challenge)
	return nil
}

func (m *MemoryChallengeStore) Stats(ctx context.Context) (models.ChallengeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stats := models.ChallengeStats{}
	for _, pending := range m.challenges {
		if !pending.Expired(now) {
			stats.Pending++
		}
	}

	return stats, nil
}

// cleanupRoutine runs every minute to drop expired challenges.
func (m *MemoryChallengeStore) cleanupRoutine() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.cleanup()
	}
}

func (m *MemoryChallengeStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, pending := range m.challenges {
		if pending.Expired(now) {
			delete(m.challenges, key)
		}
	}
}

// MemoryCredentialStore keeps credentials in process memory. Not persistent;
// intended for development and tests.
type MemoryCredentialStore struct {
	credentials map[string]*models.Credential
	mu          sync.RWMutex
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		credentials: make(map[string]*models.Credential),
	}
}

func (m *MemoryCredentialStore) Create(ctx context.Context, credential *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[credential.CredentialID]; exists {
		return ErrDuplicateCredential
	}

	stored := *credential
	m.credentials[credential.CredentialID] = &stored
	return nil
}

func (m *MemoryCredentialStore) FindByID(ctx context.Context, credentialID string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	credential, exists := m.credentials[credentialID]
	if !exists {
		return nil, ErrNotFound
	}

	found := *credential
	return &found, nil
}

func (m *MemoryCredentialStore) UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, exists := m.credentials[credentialID]
	if !exists {
		return ErrNotFound
	}

	if credential.Counter >= newCounter {
		return ErrStaleCounter
	}

	credential.Counter = newCounter
	if newCounter > 0 {
		credential.CounterEnabled = true
	}
	credential.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryCredentialStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.credentials)), nil
}
