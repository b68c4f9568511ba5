package audioio

// Framer re-blocks arbitrarily sized sample runs into frames of exactly
// size samples. Each emitted frame owns a fresh copy of its samples.
//
// Framer is not safe for concurrent use; it is driven by the single
// goroutine or audio thread that owns the device.
type Framer struct {
	size int
	rate float64
	buf  []float32
	n    int
	seq  uint64
	emit func(Frame)
}

// NewFramer creates a framer emitting size-sample frames tagged with rate.
func NewFramer(size int, rate float64, emit func(Frame)) *Framer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Framer{
		size: size,
		rate: rate,
		buf:  make([]float32, size),
		emit: emit,
	}
}

// Write appends samples, emitting a frame each time the buffer fills.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		c := copy(f.buf[f.n:], samples)
		f.n += c
		samples = samples[c:]
		if f.n == f.size {
			out := make([]float32, f.size)
			copy(out, f.buf)
			f.n = 0
			frame := Frame{Samples: out, SampleRate: f.rate, Seq: f.seq}
			f.seq++
			if f.emit != nil {
				f.emit(frame)
			}
		}
	}
}

// SetRate changes the rate tagged on subsequent frames.
func (f *Framer) SetRate(rate float64) {
	f.rate = rate
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int {
	return f.n
}

// Reset discards buffered samples and restarts sequence numbering.
func (f *Framer) Reset() {
	f.n = 0
	f.seq = 0
}
