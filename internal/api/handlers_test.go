package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andyleap/passkey-verifier/internal/ceremony"
	"github.com/andyleap/passkey-verifier/internal/models"
	"github.com/andyleap/passkey-verifier/internal/storage"
	"github.com/andyleap/passkey-verifier/internal/verify"
)

type stubVerifier struct {
	registration *verify.Registration
	registerErr  error
	credentialID string
	assertion    *verify.Assertion
	assertErr    error
}

func (s *stubVerifier) VerifyRegistration(ctx context.Context, pending *models.PendingChallenge, attestation []byte) (*verify.Registration, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return s.registration, nil
}

func (s *stubVerifier) AssertionCredentialID(assertion []byte) (string, error) {
	return s.credentialID, nil
}

func (s *stubVerifier) VerifyAuthentication(ctx context.Context, pending *models.PendingChallenge, credential *models.Credential, assertion []byte) (*verify.Assertion, error) {
	if s.assertErr != nil {
		return nil, s.assertErr
	}
	return s.assertion, nil
}

func newTestServer(verifier verify.Verifier) (*Server, *storage.MemoryCredentialStore) {
	credentials := storage.NewMemoryCredentialStore()
	engine := ceremony.New(ceremony.Config{RPID: "localhost", RPName: "Test RP"},
		storage.NewMemoryChallengeStore(), credentials, verifier)
	return NewServer(engine), credentials
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestRegisterBeginHandler(t *testing.T) {
	server, _ := newTestServer(&stubVerifier{})

	req := httptest.NewRequest("POST", "/api/v1/register/begin", strings.NewReader(`{"userId":"alice"}`))
	rec := httptest.NewRecorder()
	server.RegisterBeginHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["challenge"] == "" {
		t.Fatal("challenge missing from response")
	}
	if body["rpId"] != "localhost" || body["rpName"] != "Test RP" {
		t.Fatalf("unexpected rp fields: %v", body)
	}
	if body["userName"] != "alice" {
		t.Fatalf("userName = %v, want alice", body["userName"])
	}
}

func TestLoginBeginHandlerWithoutBody(t *testing.T) {
	server, _ := newTestServer(&stubVerifier{})

	req := httptest.NewRequest("POST", "/api/v1/login/begin", nil)
	rec := httptest.NewRecorder()
	server.LoginBeginHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if _, ok := body["userName"]; ok {
		t.Fatal("login challenge should not carry a user name")
	}
}

func TestRegisterFinishHandler(t *testing.T) {
	server, _ := newTestServer(&stubVerifier{
		registration: &verify.Registration{CredentialID: []byte("cred-1"), PublicKey: []byte("pk"), Counter: 1},
	})

	begin := httptest.NewRequest("POST", "/api/v1/register/begin", nil)
	beginRec := httptest.NewRecorder()
	server.RegisterBeginHandler(beginRec, begin)
	challenge := decodeBody(t, beginRec)["challenge"].(string)

	payload := `{"challenge":"` + challenge + `","attestation":{"id":"cred-1"}}`
	req := httptest.NewRequest("POST", "/api/v1/register/finish", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.RegisterFinishHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v, want true", body["success"])
	}
	if body["credentialId"] == "" || body["publicKey"] == "" {
		t.Fatalf("missing credential fields: %v", body)
	}
}

func TestRegisterFinishHandlerMissingFields(t *testing.T) {
	server, _ := newTestServer(&stubVerifier{})

	req := httptest.NewRequest("POST", "/api/v1/register/finish", strings.NewReader(`{"challenge":"x"}`))
	rec := httptest.NewRecorder()
	server.RegisterFinishHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLoginFinishHandler(t *testing.T) {
	server, credentials := newTestServer(&stubVerifier{
		credentialID: "cred-1",
		assertion:    &verify.Assertion{NewCounter: 2},
	})

	err := credentials.Create(context.Background(), &models.Credential{
		CredentialID:   "cred-1",
		PublicKey:      []byte("pk"),
		Counter:        1,
		CounterEnabled: true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	begin := httptest.NewRequest("POST", "/api/v1/login/begin", nil)
	beginRec := httptest.NewRecorder()
	server.LoginBeginHandler(beginRec, begin)
	challenge := decodeBody(t, beginRec)["challenge"].(string)

	payload := `{"challenge":"` + challenge + `","assertion":{"id":"cred-1"}}`
	req := httptest.NewRequest("POST", "/api/v1/login/finish", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.LoginFinishHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["verified"] != true {
		t.Fatalf("verified = %v, want true", body["verified"])
	}
}

func TestVerificationFailuresAreIndistinguishable(t *testing.T) {
	// Unknown challenge vs. failed verification must produce identical
	// responses so callers cannot probe what exists.
	server, _ := newTestServer(&stubVerifier{registerErr: errors.New("bad attestation")})

	unknown := httptest.NewRequest("POST", "/api/v1/register/finish",
		strings.NewReader(`{"challenge":"never-issued","attestation":{}}`))
	unknownRec := httptest.NewRecorder()
	server.RegisterFinishHandler(unknownRec, unknown)

	begin := httptest.NewRequest("POST", "/api/v1/register/begin", nil)
	beginRec := httptest.NewRecorder()
	server.RegisterBeginHandler(beginRec, begin)
	challenge := decodeBody(t, beginRec)["challenge"].(string)

	failed := httptest.NewRequest("POST", "/api/v1/register/finish",
		strings.NewReader(`{"challenge":"`+challenge+`","attestation":{}}`))
	failedRec := httptest.NewRecorder()
	server.RegisterFinishHandler(failedRec, failed)

	if unknownRec.Code != http.StatusUnauthorized || failedRec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d / %d, want 401 / 401", unknownRec.Code, failedRec.Code)
	}
	if unknownRec.Body.String() != failedRec.Body.String() {
		t.Fatalf("failure bodies differ:\n%s\n%s", unknownRec.Body.String(), failedRec.Body.String())
	}
}

type unavailableChallengeStore struct{}

func (unavailableChallengeStore) Put(ctx context.Context, challenge *models.PendingChallenge, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (unavailableChallengeStore) Get(ctx context.Context, challenge string) (*models.PendingChallenge, error) {
	return nil, errors.New("connection refused")
}

func (unavailableChallengeStore) Take(ctx context.Context, challenge string) (*models.PendingChallenge, error) {
	return nil, errors.New("connection refused")
}

func (unavailableChallengeStore) Delete(ctx context.Context, challenge string) error {
	return errors.New("connection refused")
}

func (unavailableChallengeStore) Stats(ctx context.Context) (models.ChallengeStats, error) {
	return models.ChallengeStats{}, errors.New("connection refused")
}

func TestStorageFailureIsDistinct(t *testing.T) {
	engine := ceremony.New(ceremony.Config{RPID: "localhost", RPName: "Test RP"},
		unavailableChallengeStore{}, storage.NewMemoryCredentialStore(), &stubVerifier{})
	server := NewServer(engine)

	req := httptest.NewRequest("POST", "/api/v1/register/begin", nil)
	rec := httptest.NewRecorder()
	server.RegisterBeginHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	server, credentials := newTestServer(&stubVerifier{})

	err := credentials.Create(context.Background(), &models.Credential{
		CredentialID: "cred-1",
		PublicKey:    []byte("pk"),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	server.StatsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["credentials"] != float64(1) {
		t.Fatalf("credentials = %v, want 1", body["credentials"])
	}
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(&stubVerifier{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	server.HealthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "healthy" {
		t.Fatalf("status = %v, want healthy", body["status"])
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.example.com"},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/login/begin", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest("POST", "/api/v1/login/begin", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected allow-origin for unlisted origin")
	}
}
