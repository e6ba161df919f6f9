package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/andyleap/passkey-verifier/internal/api"
	"github.com/andyleap/passkey-verifier/internal/ceremony"
	"github.com/andyleap/passkey-verifier/internal/storage"
	"github.com/andyleap/passkey-verifier/internal/verify"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup WebAuthn
	wconfig := &webauthn.Config{
		RPDisplayName: cfg.RPName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	}

	webAuthn, err := webauthn.New(wconfig)
	if err != nil {
		slog.Error("Failed to create WebAuthn instance", "error", err)
		os.Exit(1)
	}

	verifier := verify.NewWebAuthnVerifier(webAuthn, cfg.UserVerification == "required")

	// Setup challenge storage
	var challengeStore storage.ChallengeStore
	switch cfg.ChallengeMode {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Test Redis connection
		ctx := context.Background()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		challengeStore = storage.NewRedisChallengeStore(redisClient)
		slog.Info("Using Redis challenge storage", "addr", cfg.Redis.Addr)
	case "memory":
		challengeStore = storage.NewMemoryChallengeStore()
		slog.Warn("Using in-memory challenge storage (single instance only)")
	default:
		slog.Error("Invalid CHALLENGE_MODE", "mode", cfg.ChallengeMode, "valid_modes", []string{"memory", "redis"})
		os.Exit(1)
	}

	// Setup credential storage
	var credentialStore storage.CredentialStore
	switch cfg.CredentialMode {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			slog.Error("Failed to create data directory", "error", err)
			os.Exit(1)
		}
		sqliteStore, err := storage.OpenSQLiteCredentialStore(cfg.SQLitePath)
		if err != nil {
			slog.Error("Failed to open SQLite storage", "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		credentialStore = sqliteStore
		slog.Info("Using SQLite credential storage", "path", cfg.SQLitePath)
	case "s3":
		s3Store, err := storage.NewS3CredentialStore(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.UseSSL)
		if err != nil {
			slog.Error("Failed to create S3 storage", "error", err)
			os.Exit(1)
		}
		credentialStore = s3Store
		slog.Info("Using S3 credential storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	case "memory":
		credentialStore = storage.NewMemoryCredentialStore()
		slog.Warn("Using in-memory credential storage (not persistent)")
	default:
		slog.Error("Invalid CREDENTIAL_MODE", "mode", cfg.CredentialMode, "valid_modes", []string{"sqlite", "s3", "memory"})
		os.Exit(1)
	}

	// Setup ceremony engine
	engine := ceremony.New(ceremony.Config{
		RPID:         cfg.RPID,
		RPName:       cfg.RPName,
		ChallengeTTL: cfg.ChallengeTTL,
	}, challengeStore, credentialStore, verifier)

	apiServer := api.NewServer(engine)

	// Setup routes
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/register/begin", apiServer.RegisterBeginHandler)
	mux.HandleFunc("POST /api/v1/register/finish", apiServer.RegisterFinishHandler)
	mux.HandleFunc("POST /api/v1/login/begin", apiServer.LoginBeginHandler)
	mux.HandleFunc("POST /api/v1/login/finish", apiServer.LoginFinishHandler)
	mux.HandleFunc("GET /api/v1/stats", apiServer.StatsHandler)
	mux.HandleFunc("GET /health", apiServer.HealthHandler)

	// Apply middleware
	handler := api.LoggingMiddleware(api.CORSMiddleware(cfg.RPOrigins, mux))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	fmt.Printf("Passkey verification service starting on http://localhost:%s\n", cfg.Port)
	fmt.Println("API endpoints:")
	fmt.Println("  POST /api/v1/register/begin  - Issue registration challenge")
	fmt.Println("  POST /api/v1/register/finish - Verify attestation")
	fmt.Println("  POST /api/v1/login/begin     - Issue authentication challenge")
	fmt.Println("  POST /api/v1/login/finish    - Verify assertion")
	fmt.Println("  GET  /api/v1/stats           - Storage stats")
	fmt.Println("  GET  /health                 - Health check")

	if err := server.ListenAndServe(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
