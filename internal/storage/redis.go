package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andyleap/passkey-verifier/internal/models"
	"github.com/redis/go-redis/v9"
)

// challengeKeyPrefix namespaces challenge entries so they cannot collide with
// anything else sharing the database.
const challengeKeyPrefix = "challenge:"

// RedisChallengeStore keeps pending challenges in Redis, relying on key TTLs
// for expiry and GETDEL for atomic consumption.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{
		client: client,
	}
}

func challengeKey(challenge string) string {
	return challengeKeyPrefix + challenge
}

func (r *RedisChallengeStore) Put(ctx context.Context, challenge *models.PendingChallenge, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}

	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := r.client.Set(ctx, challengeKey(challenge.Challenge), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}

	return nil
}

func (r *RedisChallengeStore) Get(ctx context.Context, challenge string) (*models.PendingChallenge, error) {
	data, err := r.client.Get(ctx, challengeKey(challenge)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	return r.decode(ctx, challenge, data)
}

func (r *RedisChallengeStore) Take(ctx context.Context, challenge string) (*models.PendingChallenge, error) {
	data, err := r.client.GetDel(ctx, challengeKey(challenge)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take challenge: %w", err)
	}

	return r.decode(ctx, challenge, data)
}

func (r *RedisChallengeStore) Delete(ctx context.Context, challenge string) error {
	return r.client.Del(ctx, challengeKey(challenge)).Err()
}

func (r *RedisChallengeStore) Stats(ctx context.Context) (models.ChallengeStats, error) {
	var stats models.ChallengeStats

	iter := r.client.Scan(ctx, 0, challengeKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		stats.Pending++
	}
	if err := iter.Err(); err != nil {
		return models.ChallengeStats{}, fmt.Errorf("failed to scan challenges: %w", err)
	}

	return stats, nil
}

// decode unmarshals a stored challenge and double-checks expiry. Redis TTL
// should make expired entries unreachable, but clock skew between writer and
// reader must not resurrect one.
func (r *RedisChallengeStore) decode(ctx context.Context, challenge, data string) (*models.PendingChallenge, error) {
	var pending models.PendingChallenge
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}

	if pending.Expired(time.Now()) {
		r.client.Del(ctx, challengeKey(challenge))
		return nil, ErrNotFound
	}

	return &pending, nil
}
