//go:build cgo

package audioio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink plays PCM16 through the default output device. oto pulls
// audio with Read; Write only appends to the pending buffer.
type OtoSink struct {
	logger *slog.Logger
	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

// NewOtoSink opens the default output device at TargetSampleRate mono.
// oto allows one context per process.
func NewOtoSink(logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   TargetSampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, deviceError("oto", err)
	}
	<-ready

	s := &OtoSink{
		logger: logger,
		otoCtx: otoCtx,
		buf:    make([]byte, 0, TargetSampleRate*4),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write appends audio and starts playback on the first chunk.
func (s *OtoSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.buf = append(s.buf, pcm...)

	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for oto.Player.
func (s *OtoSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		clear(p)
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards pending audio and stops the current player so the next
// chunk starts fresh.
func (s *OtoSink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		if err := player.Close(); err != nil {
			s.logger.Debug("close oto player", "error", err)
		}
	}
}

// Close releases the player.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.mu.Unlock()

	if player != nil {
		if err := player.Close(); err != nil {
			return fmt.Errorf("close oto player: %w", err)
		}
	}
	return nil
}

// Name returns "oto".
func (s *OtoSink) Name() string {
	return "oto"
}

var _ Sink = (*OtoSink)(nil)
