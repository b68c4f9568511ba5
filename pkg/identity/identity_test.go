package identity

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

func TestGetOrCreateToken(t *testing.T) {
	t.Run("creates a uuid v4 once", func(t *testing.T) {
		store := NewMemoryStore("")
		p := New(store, nil)

		token, err := p.GetOrCreateToken()
		if err != nil {
			t.Fatalf("GetOrCreateToken: %v", err)
		}
		id, err := uuid.Parse(token)
		if err != nil || id.Version() != 4 {
			t.Errorf("token %q is not a UUIDv4", token)
		}

		again, _ := p.GetOrCreateToken()
		if again != token {
			t.Errorf("second call returned %q, want %q", again, token)
		}
		if loads, saves := store.Calls(); loads != 1 || saves != 1 {
			t.Errorf("store calls = (%d loads, %d saves), want (1, 1)", loads, saves)
		}
	})

	t.Run("reuses a stored token", func(t *testing.T) {
		store := NewMemoryStore("existing")
		token, err := New(store, nil).GetOrCreateToken()
		if err != nil || token != "existing" {
			t.Errorf("got (%q, %v), want existing", token, err)
		}
		if _, saves := store.Calls(); saves != 0 {
			t.Error("stored token should not be rewritten")
		}
	})

	t.Run("load failure", func(t *testing.T) {
		store := NewMemoryStore("")
		store.LoadErr = errors.New("locked")
		if _, err := New(store, nil).GetOrCreateToken(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("save failure", func(t *testing.T) {
		store := NewMemoryStore("")
		store.SaveErr = errors.New("read-only")
		if _, err := New(store, nil).GetOrCreateToken(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("concurrent callers share one token", func(t *testing.T) {
		p := New(NewMemoryStore(""), nil)
		tokens := make([]string, 8)
		var wg sync.WaitGroup
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tokens[i], _ = p.GetOrCreateToken()
			}(i)
		}
		wg.Wait()
		for _, tok := range tokens[1:] {
			if tok != tokens[0] {
				t.Fatalf("tokens differ: %v", tokens)
			}
		}
	})
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicenote", TokenKey)
	store := &FileStore{Path: path}

	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: expected ErrNotFound, got %v", err)
	}
	if err := store.Save("abc"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	token, err := store.Load()
	if err != nil || token != "abc" {
		t.Errorf("Load = (%q, %v)", token, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %v, want 0600", perm)
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore()

	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty keyring: expected ErrNotFound, got %v", err)
	}

	p := New(store, nil)
	token, err := p.GetOrCreateToken()
	if err != nil {
		t.Fatalf("GetOrCreateToken: %v", err)
	}
	stored, err := store.Load()
	if err != nil || stored != token {
		t.Errorf("keyring holds (%q, %v), want %q", stored, err, token)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestKeyringAvailableDisabled(t *testing.T) {
	t.Setenv("VOICENOTE_KEYRING_DISABLED", "1")
	if KeyringAvailable() {
		t.Error("keyring should report unavailable when disabled")
	}

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	store, err := DefaultStore(nil)
	if err != nil {
		t.Fatalf("DefaultStore: %v", err)
	}
	if store.Name() != "file" {
		t.Errorf("store = %s, want file", store.Name())
	}
}
