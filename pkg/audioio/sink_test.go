package audioio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestPlayer_WritesInOrder(t *testing.T) {
	sink := NewMockSink()
	p := NewPlayer(sink, 8, nil)
	p.Start(context.Background())
	defer p.Close()

	chunks := [][]byte{{1, 2}, {3, 4}, {5, 6}}
	for _, c := range chunks {
		if err := p.Enqueue(c); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	deadline := time.After(time.Second)
	for len(sink.Writes()) < len(chunks) {
		select {
		case <-sink.Written():
		case <-deadline:
			t.Fatalf("Timed out, got %d writes", len(sink.Writes()))
		}
	}

	for i, w := range sink.Writes() {
		if !bytes.Equal(w, chunks[i]) {
			t.Errorf("Write %d: expected %v, got %v", i, chunks[i], w)
		}
	}
	if s := p.Stats(); s.ChunksPlayed != 3 || s.BytesPlayed != 6 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestPlayer_DropsWhenFull(t *testing.T) {
	p := NewPlayer(NewMockSink(), 1, nil)
	// Not started: nothing drains the queue.
	if err := p.Enqueue([]byte{1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := p.Enqueue([]byte{2}); !errors.Is(err, ErrPlaybackQueueFull) {
		t.Errorf("Expected ErrPlaybackQueueFull, got %v", err)
	}
	if p.Stats().ChunksDropped != 1 {
		t.Errorf("Expected 1 dropped chunk, got %d", p.Stats().ChunksDropped)
	}
}

func TestPlayer_Clear(t *testing.T) {
	sink := NewMockSink()
	p := NewPlayer(sink, 4, nil)
	_ = p.Enqueue([]byte{1})
	_ = p.Enqueue([]byte{2})

	p.Clear()
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(sink.Writes()) != 0 {
		t.Errorf("Expected cleared chunks not to be played")
	}
	if err := sink.Write([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected sink to be closed, got %v", err)
	}
}
