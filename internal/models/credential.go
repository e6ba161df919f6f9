package models

import (
	"time"
)

// Credential is a registered public-key credential. The credential ID is the
// base64url-encoded identifier reported by the authenticator and is the
// primary lookup key.
type Credential struct {
	CredentialID string    `json:"credentialId"`
	PublicKey    []byte    `json:"publicKey"`
	Counter      uint32    `json:"counter"`
	// CounterEnabled records that this authenticator has reported a non-zero
	// signature counter at least once. Once set, a non-advancing counter is
	// treated as a clone signal rather than a counter-less authenticator.
	CounterEnabled bool      `json:"counterEnabled"`
	SubjectID      string    `json:"subjectId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
