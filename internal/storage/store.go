package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// KeyValueStore is the durable backing store for client state.
// Get returns ok=false when the key is absent.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Ensure SQLiteStore implements KeyValueStore
var _ KeyValueStore = (*SQLiteStore)(nil)

// SQLiteStore implements KeyValueStore using SQLite with encrypted values.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based store.
// The dbPath is the path to the SQLite database file.
// The encryptionKey is used to encrypt/decrypt stored values.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// The file exists once the schema is created; keep it private.
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		encrypted_value TEXT NOT NULL,
		last_updated DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

// Get retrieves and decrypts the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	err := s.db.QueryRowContext(ctx,
		"SELECT encrypted_value FROM kv WHERE key = ?",
		key,
	).Scan(&encrypted)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query %s: %w", key, err)
	}

	plaintext, err := Decrypt(encrypted, s.encryptionKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}

	return string(plaintext), true, nil
}

// Set encrypts and stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := Encrypt([]byte(value), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, encrypted_value, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			last_updated = excluded.last_updated
	`, key, encrypted, time.Now())

	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
