// Package trust is the local store of trusted issuer public keys, one
// Ed25519 key per issuer id. It backs offline credential verification:
// the CLI resolves an issuer's key here instead of asking the service.
package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-jose/go-jose/v4"
)

// Common errors returned by this package.
var (
	ErrIssuerNotFound = errors.New("issuer not found in trust store")
	ErrInvalidKey     = errors.New("invalid key format")
)

// TrustPathEnv overrides the default trust store directory.
const TrustPathEnv = "AGENTID_TRUST_PATH"

// Entry pairs an issuer id with its trusted key.
type Entry struct {
	IssuerID string          `json:"issuer_id"`
	Key      jose.JSONWebKey `json:"key"`
}

// Store resolves issuer public keys for offline verification.
type Store interface {
	// Add trusts a key for the issuer. Re-adding replaces the previous
	// key: issuers derive exactly one signing key, so a new key means
	// the old one is gone.
	Add(issuerID string, key jose.JSONWebKey) error

	// PublicKeyBase64 returns the issuer's Ed25519 public key encoded
	// the way credential payloads carry it.
	PublicKeyBase64(issuerID string) (string, error)

	// Get returns the issuer's key as a JWK.
	Get(issuerID string) (*jose.JSONWebKey, error)

	// List returns every trusted issuer and key.
	List() ([]Entry, error)

	// Remove withdraws trust from the issuer.
	Remove(issuerID string) error
}

// FileStore implements Store with one JWK file per issuer.
// Default location: ~/.agentid/trust/
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// DefaultTrustDir returns the default trust store directory.
func DefaultTrustDir() string {
	if envPath := os.Getenv(TrustPathEnv); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentid/trust"
	}
	return filepath.Join(home, ".agentid", "trust")
}

// NewFileStore creates a file-based trust store, creating the directory
// if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultTrustDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create trust directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path returns the key file for an issuer. The issuer id is sanitized
// for the filesystem; the entry inside carries the real id.
func (s *FileStore) path(issuerID string) string {
	return filepath.Join(s.dir, sanitizeFilename(issuerID)+".jwk")
}

// Add trusts a key for the issuer, replacing any previous key.
func (s *FileStore) Add(issuerID string, key jose.JSONWebKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if issuerID == "" {
		return fmt.Errorf("%w: missing issuer id", ErrInvalidKey)
	}
	if _, ok := key.Key.(ed25519.PublicKey); !ok {
		return fmt.Errorf("%w: issuer keys must be Ed25519 public keys", ErrInvalidKey)
	}

	data, err := json.MarshalIndent(Entry{IssuerID: issuerID, Key: key}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := os.WriteFile(s.path(issuerID), data, 0600); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Get returns the issuer's key as a JWK.
func (s *FileStore) Get(issuerID string) (*jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.load(issuerID)
	if err != nil {
		return nil, err
	}
	return &entry.Key, nil
}

// PublicKeyBase64 returns the issuer's Ed25519 public key encoded the way
// credential payloads carry it. This is the read path offline
// verification uses.
func (s *FileStore) PublicKeyBase64(issuerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.load(issuerID)
	if err != nil {
		return "", err
	}
	pub, ok := entry.Key.Key.(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("%w: stored key for issuer %s is not Ed25519", ErrInvalidKey, issuerID)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// List returns every trusted issuer and key. Unreadable entries are
// skipped.
func (s *FileStore) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust directory: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".jwk" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.IssuerID == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove withdraws trust from the issuer.
func (s *FileStore) Remove(issuerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(issuerID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrIssuerNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	return nil
}

func (s *FileStore) load(issuerID string) (*Entry, error) {
	data, err := os.ReadFile(s.path(issuerID))
	if os.IsNotExist(err) {
		return nil, ErrIssuerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse entry: %w", err)
	}
	return &entry, nil
}

// sanitizeFilename converts an issuer id to a safe filename.
func sanitizeFilename(issuerID string) string {
	safe := make([]byte, 0, len(issuerID))
	for _, c := range []byte(issuerID) {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			safe = append(safe, '_')
		default:
			safe = append(safe, c)
		}
	}
	return string(safe)
}
