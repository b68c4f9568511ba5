package notes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoteNotFound is returned by FileSink.Get for unknown IDs.
var ErrNoteNotFound = errors.New("notes: note not found")

// FileSink stores each note as a YAML file under Dir.
type FileSink struct {
	Dir string
}

// NewFileSink creates a sink writing to dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// DefaultNotesDir returns ~/.voicenote/notes.
func DefaultNotesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".voicenote", "notes")
	}
	return filepath.Join(home, ".voicenote", "notes")
}

// Name implements Sink.
func (f *FileSink) Name() string { return "file" }

// Save writes the note and returns the file path.
func (f *FileSink) Save(ctx context.Context, n Note) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n.ID == "" {
		return "", errors.New("notes: note has no id")
	}
	if err := os.MkdirAll(f.Dir, 0700); err != nil {
		return "", fmt.Errorf("notes: create dir: %w", err)
	}

	data, err := yaml.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("notes: encode: %w", err)
	}

	path := f.path(n.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("notes: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("notes: write: %w", err)
	}
	return path, nil
}

// Get loads one note by ID.
func (f *FileSink) Get(id string) (Note, error) {
	return f.load(f.path(id))
}

// List returns all saved notes, newest meeting first. Deleted notes are
// skipped.
func (f *FileSink) List() ([]Note, error) {
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notes: list: %w", err)
	}

	var out []Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		n, err := f.load(filepath.Join(f.Dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if n.IsDeleted {
			continue
		}
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].MeetingTime.After(out[j].MeetingTime)
	})
	return out, nil
}

// Delete marks a note as deleted without removing the file.
func (f *FileSink) Delete(id string) error {
	n, err := f.Get(id)
	if err != nil {
		return err
	}
	n.IsDeleted = true
	_, err = f.Save(context.Background(), n)
	return err
}

func (f *FileSink) path(id string) string {
	return filepath.Join(f.Dir, filepath.Base(id)+".yaml")
}

func (f *FileSink) load(path string) (Note, error) {
	var n Note
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return n, ErrNoteNotFound
	}
	if err != nil {
		return n, fmt.Errorf("notes: read: %w", err)
	}
	if err := yaml.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("notes: decode %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
