package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keychain service name.
const DefaultService = "voicenote"

// KeyringStore keeps the token in the OS keychain.
type KeyringStore struct {
	Service string
	Account string
}

// NewKeyringStore creates a keychain store under DefaultService.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{Service: DefaultService, Account: TokenKey}
}

// Load implements Store.
func (s *KeyringStore) Load() (string, error) {
	token, err := keyring.Get(s.Service, s.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return token, nil
}

// Save implements Store.
func (s *KeyringStore) Save(token string) error {
	if err := keyring.Set(s.Service, s.Account, token); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Delete removes the token from the keychain.
func (s *KeyringStore) Delete() error {
	err := keyring.Delete(s.Service, s.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Name implements Store.
func (s *KeyringStore) Name() string { return "keyring" }

// KeyringAvailable reports whether the OS keychain works. Setting
// VOICENOTE_KEYRING_DISABLED=1 skips the probe for headless machines.
func KeyringAvailable() bool {
	if os.Getenv("VOICENOTE_KEYRING_DISABLED") == "1" {
		return false
	}
	const probeService, probeAccount = "voicenote-keyring-probe", "probe"
	if err := keyring.Set(probeService, probeAccount, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(probeService, probeAccount)
	return true
}

// FileStore keeps the token in a file readable only by the user.
type FileStore struct {
	Path string
}

// DefaultFilePath returns the token path under the user config directory.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultService, TokenKey), nil
}

// Load implements Store.
func (s *FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

// Save implements Store.
func (s *FileStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.Path, []byte(token+"\n"), 0o600)
}

// Name implements Store.
func (s *FileStore) Name() string { return "file" }

// DefaultStore returns the keychain store when the keychain works and a
// file store under the user config directory otherwise.
func DefaultStore(logger *slog.Logger) (Store, error) {
	if KeyringAvailable() {
		return NewKeyringStore(), nil
	}
	path, err := DefaultFilePath()
	if err != nil {
		return nil, fmt.Errorf("identity: no keychain and no config dir: %w", err)
	}
	if logger != nil {
		logger.Debug("keychain unavailable, storing token in file", "path", path)
	}
	return &FileStore{Path: path}, nil
}
