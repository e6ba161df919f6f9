package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/andyleap/passkey-verifier/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS passkey_credentials (
    credential_id TEXT PRIMARY KEY,
    public_key BLOB NOT NULL,
    counter INTEGER NOT NULL DEFAULT 0,
    counter_enabled INTEGER NOT NULL DEFAULT 0,
    subject_id TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passkey_credentials_subject_id
    ON passkey_credentials(subject_id);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteCredentialStore persists credentials in a single SQLite file. This is
// the default durable backend; credentials survive process restarts.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// OpenSQLiteCredentialStore opens the credential database and ensures the
// schema exists.
func OpenSQLiteCredentialStore(path string) (*SQLiteCredentialStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteCredentialStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteCredentialStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteCredentialStore) Create(ctx context.Context, credential *models.Credential) error {
	subject := sql.NullString{}
	if credential.SubjectID != "" {
		subject = sql.NullString{String: credential.SubjectID, Valid: true}
	}

	counterEnabled := 0
	if credential.CounterEnabled {
		counterEnabled = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO passkey_credentials
    (credential_id, public_key, counter, counter_enabled, subject_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		credential.CredentialID,
		credential.PublicKey,
		int64(credential.Counter),
		counterEnabled,
		subject,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}

	return nil
}

func (s *SQLiteCredentialStore) FindByID(ctx context.Context, credentialID string) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT credential_id, public_key, counter, counter_enabled, subject_id, created_at, updated_at
FROM passkey_credentials
WHERE credential_id = ?`, credentialID)

	var (
		credential     models.Credential
		counter        int64
		counterEnabled int
		subject        sql.NullString
		createdAt      int64
		updatedAt      int64
	)
	err := row.Scan(&credential.CredentialID, &credential.PublicKey, &counter,
		&counterEnabled, &subject, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	credential.Counter = uint32(counter)
	credential.CounterEnabled = counterEnabled != 0
	if subject.Valid {
		credential.SubjectID = subject.String
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)

	return &credential, nil
}

func (s *SQLiteCredentialStore) UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) error {
	// The counter guard lives in the statement itself so two concurrent
	// verifications cannot both win the advance.
	result, err := s.db.ExecContext(ctx, `
UPDATE passkey_credentials
SET counter = ?,
    counter_enabled = CASE WHEN ? > 0 THEN 1 ELSE counter_enabled END,
    updated_at = ?
WHERE credential_id = ? AND counter < ?`,
		int64(newCounter),
		int64(newCounter),
		toMillis(time.Now()),
		credentialID,
		int64(newCounter),
	)
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update counter result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing credential from a non-advancing counter.
	if _, err := s.FindByID(ctx, credentialID); err != nil {
		return err
	}
	return ErrStaleCounter
}

func (s *SQLiteCredentialStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passkey_credentials`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}
