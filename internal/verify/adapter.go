package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/andyleap/passkey-verifier/internal/models"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Registration is the parsed outcome of a successfully verified attestation.
type Registration struct {
	CredentialID []byte
	PublicKey    []byte
	Counter      uint32
}

// Assertion is the parsed outcome of a successfully verified assertion.
// NewCounter is the signature counter reported by the authenticator; the
// caller decides whether it is an acceptable advance.
type Assertion struct {
	NewCounter uint32
}

// Verifier is the cryptographic verification primitive the ceremony engine
// delegates to. Implementations parse the client response, check the embedded
// challenge, origin, and relying-party ID, and verify the signature. They do
// not touch storage.
type Verifier interface {
	VerifyRegistration(ctx context.Context, pending *models.PendingChallenge, attestation []byte) (*Registration, error)
	AssertionCredentialID(assertion []byte) (string, error)
	VerifyAuthentication(ctx context.Context, pending *models.PendingChallenge, credential *models.Credential, assertion []byte) (*Assertion, error)
}

// WebAuthnVerifier implements Verifier on top of go-webauthn. The relying
// party ID, display name, and expected origins are fixed at construction via
// the webauthn.WebAuthn instance.
type WebAuthnVerifier struct {
	webauthn                *webauthn.WebAuthn
	requireUserVerification bool
}

func NewWebAuthnVerifier(w *webauthn.WebAuthn, requireUserVerification bool) *WebAuthnVerifier {
	return &WebAuthnVerifier{
		webauthn:                w,
		requireUserVerification: requireUserVerification,
	}
}

func (v *WebAuthnVerifier) VerifyRegistration(ctx context.Context, pending *models.PendingChallenge, attestation []byte) (*Registration, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(attestation))
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation: %w", err)
	}

	user := ceremonyUser{
		id:   []byte(pending.SubjectHint),
		name: pending.SubjectHint,
	}

	credential, err := v.webauthn.CreateCredential(user, v.session(pending, user.id, nil), parsed)
	if err != nil {
		return nil, fmt.Errorf("attestation verification failed: %w", err)
	}

	return &Registration{
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		Counter:      credential.Authenticator.SignCount,
	}, nil
}

// AssertionCredentialID extracts the credential ID an assertion claims to be
// signed with, so the stored credential can be looked up before verification.
func (v *WebAuthnVerifier) AssertionCredentialID(assertion []byte) (string, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(assertion))
	if err != nil {
		return "", fmt.Errorf("failed to parse assertion: %w", err)
	}
	if len(parsed.RawID) == 0 {
		return "", fmt.Errorf("assertion has no credential id")
	}
	return base64.RawURLEncoding.EncodeToString(parsed.RawID), nil
}

func (v *WebAuthnVerifier) VerifyAuthentication(ctx context.Context, pending *models.PendingChallenge, credential *models.Credential, assertion []byte) (*Assertion, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(assertion))
	if err != nil {
		return nil, fmt.Errorf("failed to parse assertion: %w", err)
	}

	credentialID, err := base64.RawURLEncoding.DecodeString(credential.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("invalid stored credential id: %w", err)
	}

	// Account binding is out of scope, so the synthetic user is keyed off the
	// authenticator's own user handle when it provides one.
	userID := []byte(parsed.Response.UserHandle)
	if len(userID) == 0 {
		userID = credentialID
	}

	user := ceremonyUser{
		id:   userID,
		name: credential.SubjectID,
		credentials: []webauthn.Credential{{
			ID:        credentialID,
			PublicKey: credential.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: credential.Counter,
			},
		}},
	}

	if _, err := v.webauthn.ValidateLogin(user, v.session(pending, userID, [][]byte{credentialID}), parsed); err != nil {
		return nil, fmt.Errorf("assertion verification failed: %w", err)
	}

	return &Assertion{
		NewCounter: parsed.Response.AuthenticatorData.Counter,
	}, nil
}

// session rebuilds the webauthn session state from a pending challenge. The
// challenge string is compared against the collected client data by the
// library; TTL enforcement already happened at the challenge store.
func (v *WebAuthnVerifier) session(pending *models.PendingChallenge, userID []byte, allowedCredentials [][]byte) webauthn.SessionData {
	verification := protocol.VerificationPreferred
	if v.requireUserVerification {
		verification = protocol.VerificationRequired
	}

	return webauthn.SessionData{
		Challenge:            pending.Challenge,
		UserID:               userID,
		AllowedCredentialIDs: allowedCredentials,
		Expires:              pending.ExpiresAt,
		UserVerification:     verification,
	}
}

// ceremonyUser satisfies webauthn.User for a single ceremony. There is no
// account system behind it; the ID is advisory.
type ceremonyUser struct {
	id          []byte
	name        string
	credentials []webauthn.Credential
}

func (u ceremonyUser) WebAuthnID() []byte {
	return u.id
}

func (u ceremonyUser) WebAuthnName() string {
	if u.name == "" {
		return "user"
	}
	return u.name
}

func (u ceremonyUser) WebAuthnDisplayName() string {
	return u.WebAuthnName()
}

func (u ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (u ceremonyUser) WebAuthnIcon() string {
	return ""
}
