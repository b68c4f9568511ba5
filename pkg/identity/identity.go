// Package identity provides the per-device anonymous token used to
// authenticate voice and upload requests. The token is created once,
// persisted, and reused for every request.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TokenKey is the name the token is stored under.
const TokenKey = "anonymous-token"

// ErrNotFound indicates the store holds no token yet.
var ErrNotFound = errors.New("identity: token not found")

// Provider supplies the anonymous token.
type Provider interface {
	GetOrCreateToken() (string, error)
}

// Store persists the token.
type Store interface {
	// Load returns the stored token or ErrNotFound.
	Load() (string, error)

	// Save stores the token, replacing any previous one.
	Save(token string) error

	// Name identifies the store in logs.
	Name() string
}

// TokenProvider creates the token on first use and caches it for the
// lifetime of the process.
type TokenProvider struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	token string
}

// New creates a provider backed by store.
func New(store Store, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenProvider{
		store:  store,
		logger: logger.With("component", "identity", "store", store.Name()),
	}
}

// GetOrCreateToken returns the stored token, creating and saving a new
// UUIDv4 when none exists.
func (p *TokenProvider) GetOrCreateToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}

	token, err := p.store.Load()
	switch {
	case err == nil && token != "":
		p.token = token
		return token, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("identity: load token: %w", err)
	}

	token = uuid.NewString()
	if err := p.store.Save(token); err != nil {
		return "", fmt.Errorf("identity: save token: %w", err)
	}
	p.token = token
	p.logger.Info("created anonymous token")
	return token, nil
}

// MemoryStore keeps the token in memory. It is meant for tests.
type MemoryStore struct {
	mu    sync.Mutex
	token string
	loads int
	saves int

	// LoadErr and SaveErr, when set, are returned by Load and Save.
	LoadErr error
	SaveErr error
}

// NewMemoryStore creates a store holding token, which may be empty.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Load implements Store.
func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.LoadErr != nil {
		return "", m.LoadErr
	}
	if m.token == "" {
		return "", ErrNotFound
	}
	return m.token, nil
}

// Save implements Store.
func (m *MemoryStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.token = token
	return nil
}

// Name implements Store.
func (m *MemoryStore) Name() string { return "memory" }

// Calls returns how many times Load and Save were called.
func (m *MemoryStore) Calls() (loads, saves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves
}
