package ceremony

import "errors"

// Failure taxonomy for ceremony operations. Transport layers collapse all of
// these except ErrStorageUnavailable into a single "verification failed"
// outcome so callers cannot enumerate challenges or credentials; the
// distinct kinds remain visible in logs.
var (
	// ErrStorageUnavailable indicates an infrastructure failure, not a
	// verification outcome. It is the only error safe to surface distinctly.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrChallengeNotFound covers never-issued, expired, already-consumed,
	// and wrong-action challenges. These are indistinguishable by design.
	ErrChallengeNotFound = errors.New("challenge not found or expired")

	// ErrCredentialNotFound indicates authentication against an unregistered
	// credential.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrVerificationFailed indicates a signature, challenge, origin, or
	// relying-party mismatch reported by the verification primitive.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrReplaySuspected indicates a non-advancing signature counter from an
	// authenticator known to maintain one.
	ErrReplaySuspected = errors.New("signature counter did not advance")
)
