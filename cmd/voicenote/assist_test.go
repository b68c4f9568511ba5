package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/teslashibe/voicenote/pkg/voice"
)

func TestWatchStatusDisconnectAfterBurst(t *testing.T) {
	feed := newStatusFeed(4)
	for i := 0; i < 64; i++ {
		feed.push(voice.ConnectionStatus{
			State:         voice.StateRecording,
			IsConnected:   true,
			SessionActive: true,
			IsRecording:   true,
			Error:         "frame dropped",
		})
	}
	feed.push(voice.ConnectionStatus{State: voice.StateDisconnected})

	done := make(chan error, 1)
	go func() { done <- watchStatus(context.Background(), io.Discard, feed) }()

	select {
	case err := <-done:
		if !errors.Is(err, errConnectionLost) {
			t.Errorf("watchStatus = %v, want errConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchStatus did not return after disconnect")
	}
}

func TestWatchStatusCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := watchStatus(ctx, io.Discard, newStatusFeed(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("watchStatus = %v, want context.Canceled", err)
	}
}
