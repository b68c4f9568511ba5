package audioio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPlaybackQueueFull is returned by Player.Enqueue when playback is
// behind and the chunk is dropped.
var ErrPlaybackQueueFull = errors.New("audioio: playback queue full")

// Sink plays PCM16 mono audio at TargetSampleRate.
type Sink interface {
	// Write queues a PCM16 little-endian chunk for playback.
	Write(pcm []byte) error

	// Flush discards audio that has not been played yet.
	Flush()

	// Close releases the output device.
	Close() error

	// Name returns the backend name (e.g., "oto", "mock").
	Name() string
}

// PlayerStats contains playback statistics.
type PlayerStats struct {
	ChunksPlayed  int64 `json:"chunks_played"`
	ChunksDropped int64 `json:"chunks_dropped"`
	BytesPlayed   int64 `json:"bytes_played"`
}

// Player decouples inbound speaker audio from the sink. Enqueue never
// blocks; a single goroutine writes chunks to the sink in arrival order.
type Player struct {
	sink   Sink
	logger *slog.Logger
	queue  chan []byte

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	played  atomic.Int64
	dropped atomic.Int64
	bytes   atomic.Int64
}

// NewPlayer creates a player writing to sink.
func NewPlayer(sink Sink, queueSize int, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Player{
		sink:   sink,
		logger: logger.With("component", "player"),
		queue:  make(chan []byte, queueSize),
	}
}

// Start begins writing queued chunks to the sink until ctx is done or
// Close is called.
func (p *Player) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.loop(ctx, p.stopCh)
}

func (p *Player) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case pcm := <-p.queue:
			if err := p.sink.Write(pcm); err != nil {
				p.logger.Warn("playback write failed", "error", err)
				continue
			}
			p.played.Add(1)
			p.bytes.Add(int64(len(pcm)))
		}
	}
}

// Enqueue queues a PCM16 chunk for playback.
func (p *Player) Enqueue(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	select {
	case p.queue <- pcm:
		return nil
	default:
		p.dropped.Add(1)
		return ErrPlaybackQueueFull
	}
}

// Clear drops queued chunks and flushes the sink.
func (p *Player) Clear() {
	for {
		select {
		case <-p.queue:
		default:
			p.sink.Flush()
			return
		}
	}
}

// Close stops the playback goroutine and closes the sink.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.running {
		close(p.stopCh)
		p.running = false
	}
	p.mu.Unlock()

	p.wg.Wait()
	return p.sink.Close()
}

// Stats returns playback statistics.
func (p *Player) Stats() PlayerStats {
	return PlayerStats{
		ChunksPlayed:  p.played.Load(),
		ChunksDropped: p.dropped.Load(),
		BytesPlayed:   p.bytes.Load(),
	}
}

// DiscardSink drops all audio. It is used when no output device is wanted.
type DiscardSink struct{}

func (DiscardSink) Write([]byte) error { return nil }
func (DiscardSink) Flush()             {}
func (DiscardSink) Close() error       { return nil }
func (DiscardSink) Name() string       { return "discard" }
