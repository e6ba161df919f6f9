package models

import (
	"time"
)

// Action is the ceremony a challenge was issued for. A challenge issued for
// one action can never be consumed by the other.
type Action string

const (
	ActionRegister     Action = "register"
	ActionAuthenticate Action = "authenticate"
)

// PendingChallenge is a single-use challenge waiting for a signed response.
// It is created at issuance, consumed exactly once during verification, and
// otherwise expires with its TTL. It is never mutated in place.
type PendingChallenge struct {
	Challenge   string    `json:"challenge"`
	Action      Action    `json:"action"`
	SubjectHint string    `json:"subjectHint,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the challenge is past its expiry at the given time.
func (p *PendingChallenge) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// ChallengeStats describes the ephemeral challenge store for observability.
type ChallengeStats struct {
	Pending int `json:"pending"`
}
