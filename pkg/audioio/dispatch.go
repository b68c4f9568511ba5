package audioio

import (
	"sync"
	"sync/atomic"
)

// dispatcher moves frames from the audio thread to a delivery goroutine.
// push never blocks; when the queue is full the frame is dropped and
// counted as an overrun.
type dispatcher struct {
	ch   chan Frame
	done chan struct{}
	wg   sync.WaitGroup

	mu sync.RWMutex
	fn func(Frame)

	delivered atomic.Int64
	overruns  atomic.Int64
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &dispatcher{
		ch:   make(chan Frame, queueSize),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) setCallback(fn func(Frame)) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

// push is safe to call from the audio thread.
func (d *dispatcher) push(f Frame) bool {
	select {
	case d.ch <- f:
		return true
	default:
		d.overruns.Add(1)
		return false
	}
}

func (d *dispatcher) start() {
	d.wg.Add(1)
	go d.loop()
}

func (d *dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case f := <-d.ch:
			d.mu.RLock()
			fn := d.fn
			d.mu.RUnlock()
			if fn != nil {
				fn(f)
			}
			d.delivered.Add(1)
		}
	}
}

// stop ends delivery and waits for an in-flight callback to return.
// Frames still queued are discarded.
func (d *dispatcher) stop() {
	select {
	case <-d.done:
		return
	default:
		close(d.done)
	}
	d.wg.Wait()
}
