package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"privateprompt/pkg/types"
)

// ErrNoSession is returned by Load when no credential record exists.
var ErrNoSession = errors.New("no persisted session")

// ErrMalformedRecord is returned by Load when the persisted record cannot be
// parsed. The session layer recovers by clearing the record; the error never
// reaches the user.
var ErrMalformedRecord = errors.New("malformed session record")

// TokenStore is the durable persistence surface for the session credential.
// It holds no business rules: validity and expiry are judged by the Manager.
type TokenStore interface {
	// Load reads the persisted session. Returns ErrNoSession when absent
	// and ErrMalformedRecord when unparseable.
	Load() (types.Session, error)

	// Save replaces the persisted session wholesale.
	Save(session types.Session) error

	// Clear removes the persisted session. Clearing an absent record is
	// not an error.
	Clear() error
}

// tokenRecord is the on-disk layout: the opaque credential plus its expiry
// instant in epoch milliseconds.
type tokenRecord struct {
	Credential string `json:"credential"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// FileTokenStore persists the session record as a JSON file.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a token store backed by the given file path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load reads and parses the persisted session record.
func (s *FileTokenStore) Load() (types.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Session{}, ErrNoSession
		}
		return types.Session{}, fmt.Errorf("failed to read session record: %w", err)
	}

	var record tokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return types.Session{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if record.Credential == "" || record.ExpiresAt <= 0 {
		return types.Session{}, ErrMalformedRecord
	}

	return types.Session{
		Credential: record.Credential,
		ExpiresAt:  time.UnixMilli(record.ExpiresAt),
	}, nil
}

// Save writes the session record, creating the parent directory if needed.
func (s *FileTokenStore) Save(session types.Session) error {
	record := tokenRecord{
		Credential: session.Credential,
		ExpiresAt:  session.ExpiresAt.UnixMilli(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Clear removes the session record.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}
