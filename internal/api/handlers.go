package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/andyleap/passkey-verifier/internal/ceremony"
	"github.com/andyleap/passkey-verifier/internal/models"
)

type Server struct {
	engine *ceremony.Engine
}

func NewServer(engine *ceremony.Engine) *Server {
	return &Server{
		engine: engine,
	}
}

type beginRequest struct {
	UserID string `json:"userId"`
}

type finishRequest struct {
	Challenge   string          `json:"challenge"`
	Attestation json.RawMessage `json:"attestation"`
	Assertion   json.RawMessage `json:"assertion"`
}

func (s *Server) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	s.beginHandler(w, r, models.ActionRegister)
}

func (s *Server) LoginBeginHandler(w http.ResponseWriter, r *http.Request) {
	s.beginHandler(w, r, models.ActionAuthenticate)
}

func (s *Server) beginHandler(w http.ResponseWriter, r *http.Request, action models.Action) {
	var request beginRequest
	// Body is optional; the subject hint is advisory only.
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	issued, err := s.engine.IssueChallenge(r.Context(), action, request.UserID)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issued)
}

func (s *Server) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	var request finishRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if request.Challenge == "" || len(request.Attestation) == 0 {
		http.Error(w, "challenge and attestation are required", http.StatusBadRequest)
		return
	}

	result, err := s.engine.VerifyRegistration(r.Context(), request.Challenge, request.Attestation)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"credentialId": result.CredentialID,
		"publicKey":    result.PublicKey,
	})
}

func (s *Server) LoginFinishHandler(w http.ResponseWriter, r *http.Request) {
	var request finishRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if request.Challenge == "" || len(request.Assertion) == 0 {
		http.Error(w, "challenge and assertion are required", http.StatusBadRequest)
		return
	}

	result, err := s.engine.VerifyAuthentication(r.Context(), request.Challenge, request.Assertion)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"verified": result.Verified,
	})
}

func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeCeremonyError maps engine errors onto the wire. Storage failures keep
// a distinct status because retry policy differs; every verification-path
// failure collapses into one indistinguishable response so callers cannot
// probe which challenges or credentials exist.
func (s *Server) writeCeremonyError(w http.ResponseWriter, err error) {
	if errors.Is(err, ceremony.ErrStorageUnavailable) {
		slog.Error("Storage unavailable", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"success": false,
		"error":   "verification failed",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
