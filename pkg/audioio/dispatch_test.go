package audioio

import (
	"testing"
	"time"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := newDispatcher(16)
	got := make(chan uint64, 16)
	d.setCallback(func(f Frame) { got <- f.Seq })
	d.start()
	defer d.stop()

	for i := uint64(0); i < 10; i++ {
		if !d.push(Frame{Seq: i}) {
			t.Fatalf("push %d dropped", i)
		}
	}

	for want := uint64(0); want < 10; want++ {
		select {
		case seq := <-got:
			if seq != want {
				t.Fatalf("Expected seq %d, got %d", want, seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for frame %d", want)
		}
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := newDispatcher(2)
	// Not started: nothing drains the queue.
	d.push(Frame{Seq: 0})
	d.push(Frame{Seq: 1})

	if d.push(Frame{Seq: 2}) {
		t.Error("Expected push to fail on a full queue")
	}
	if n := d.overruns.Load(); n != 1 {
		t.Errorf("Expected 1 overrun, got %d", n)
	}
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := newDispatcher(1)
	d.start()
	d.stop()
	d.stop()
}
