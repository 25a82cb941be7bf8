package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Credential is the single OAuth credential record held by a deployment.
// Expires and Created are millisecond Unix timestamps, matching the
// upstream token payload. A refresh never mutates a record in place; it
// produces a new one that replaces the old atomically.
type Credential struct {
	Access        string `json:"access"`
	Refresh       string `json:"refresh,omitempty"`
	Expires       int64  `json:"expires"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	Created       int64  `json:"created,omitempty"`
}

// ExpiresAt returns the expiry as a time.Time.
func (c Credential) ExpiresAt() time.Time {
	return time.UnixMilli(c.Expires)
}

// Store persists one credential record on disk. Writes are whole-file
// replacements; there is no cross-process coordination, so concurrent
// writers resolve to last-writer-wins. That is acceptable for the
// single-operator deployment this gateway targets.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore builds a store rooted at the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save serializes the credential and durably replaces any prior record.
func (s *Store) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// Load reads the stored credential. ok is false when no record exists.
func (s *Store) Load() (cred Credential, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("read credential file: %w", err)
	}

	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, false, fmt.Errorf("parse credential file: %w", err)
	}
	return cred, true, nil
}

// Exists reports whether a credential record is present.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.path)
	return err == nil
}

// Clear deletes the record if present. Clearing an absent record succeeds.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
