// Package history keeps the rolling window of total-power samples and the
// smoothing built on top of it.
package history

import "time"

const (
	// DefaultSize holds ten minutes of samples at one per second.
	DefaultSize   = 600
	DefaultPeriod = time.Second
)

// Buffer is a bounded FIFO of total-power samples in milliwatts. It has a
// single owner and is not safe for concurrent use.
type Buffer struct {
	data   []float64
	head   int
	count  int
	period time.Duration
}

// New returns a buffer holding at most size samples taken every period.
// Non-positive arguments select the defaults.
func New(size int, period time.Duration) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	if period <= 0 {
		period = DefaultPeriod
	}

	return &Buffer{
		data:   make([]float64, size),
		period: period,
	}
}

// Push appends a sample, evicting the oldest when full.
func (b *Buffer) Push(mw float64) {
	b.data[b.head] = mw
	b.head = (b.head + 1) % len(b.data)
	if b.count < len(b.data) {
		b.count++
	}
}

// Len returns the number of samples held.
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the maximum number of samples.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Values returns the held samples, oldest first.
func (b *Buffer) Values() []float64 {
	out := make([]float64, b.count)
	if b.count < len(b.data) {
		copy(out, b.data[:b.count])
		return out
	}

	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])

	return out
}

// Mean returns the arithmetic mean of the held samples, or fallback when
// the buffer is empty.
func (b *Buffer) Mean(fallback float64) float64 {
	if b.count == 0 {
		return fallback
	}

	var sum float64
	for i := 0; i < b.count; i++ {
		sum += b.data[i]
	}

	return sum / float64(b.count)
}

// WindowMinutes returns how many whole minutes the held samples span,
// never less than 1 once a sample exists.
func (b *Buffer) WindowMinutes() int {
	if b.count == 0 {
		return 0
	}

	minutes := int(time.Duration(b.count) * b.period / time.Minute)
	if minutes < 1 {
		return 1
	}

	return minutes
}
