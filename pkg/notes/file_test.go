package notes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleNote(id string, at time.Time) Note {
	return Note{
		ID:          id,
		Title:       "Weekly " + id,
		Content:     "notes",
		MeetingTime: at,
		Duration:    42,
		Transcription: []TranscriptionEntry{
			{Role: "user", Text: "hi", Timestamp: 1500 * time.Millisecond},
		},
		Recordings: []string{},
		Summary:    Summary{Attendees: []string{"A"}, ActionItems: []string{"x"}, Notes: "notes"},
		CreatedBy:  "tok",
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "notes"))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := sampleNote("n1", at)

	path, err := sink.Save(context.Background(), n)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := sink.Get("n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != n.Title || got.Duration != 42 || !got.MeetingTime.Equal(at) {
		t.Errorf("got %+v", got)
	}
	if len(got.Transcription) != 1 || got.Transcription[0].Timestamp != 1500*time.Millisecond {
		t.Errorf("transcription = %+v", got.Transcription)
	}
}

func TestFileSinkList(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for _, n := range []struct {
		id     string
		offset time.Duration
	}{{"old", 0}, {"new", 2 * time.Hour}, {"mid", time.Hour}} {
		if _, err := sink.Save(ctx, sampleNote(n.id, base.Add(n.offset))); err != nil {
			t.Fatalf("Save %s: %v", n.id, err)
		}
	}
	if err := sink.Delete("mid"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	list, err := sink.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		ids := make([]string, len(list))
		for i, n := range list {
			ids[i] = n.ID
		}
		t.Errorf("List ids = %v, want [new old]", ids)
	}
}

func TestFileSinkMissing(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "absent"))
	if _, err := sink.Get("nope"); !errors.Is(err, ErrNoteNotFound) {
		t.Errorf("Get error = %v, want ErrNoteNotFound", err)
	}
	list, err := sink.List()
	if err != nil || len(list) != 0 {
		t.Errorf("List = %v, %v; want empty", list, err)
	}
}

func TestFileSinkCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileSink(t.TempDir()).Save(ctx, sampleNote("x", time.Now())); !errors.Is(err, context.Canceled) {
		t.Errorf("Save error = %v, want context.Canceled", err)
	}
}
