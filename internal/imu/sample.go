package imu

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"
)

// SamplePeriod is the nominal feed interval (100 Hz). It is also the logical
// spacing used to derive export timestamps from sample indices.
const SamplePeriod = 10 * time.Millisecond

// Channel identifies one sensor feed.
type Channel string

const (
	Accel Channel = "acc"
	Gyro  Channel = "gyro"
)

// Sample is one reading on a channel. Index order is temporal.
type Sample struct {
	Index   int       `json:"index"`
	Channel Channel   `json:"channel"`
	Vec     r3.Vector `json:"vec"`
}

// Elapsed approximates the time since the first sample from its index,
// independent of delivery jitter.
func (s Sample) Elapsed() time.Duration {
	return time.Duration(s.Index) * SamplePeriod
}

// Buffer is an append-only, ordered sequence of readings for one channel.
// Appends from a single producer are safe alongside concurrent readers.
type Buffer struct {
	mu      sync.RWMutex
	channel Channel
	vecs    []r3.Vector
}

// NewBuffer returns an empty buffer for ch.
func NewBuffer(ch Channel) *Buffer {
	return &Buffer{channel: ch}
}

func (b *Buffer) Channel() Channel { return b.channel }

// Append records v and returns it as a Sample.
func (b *Buffer) Append(v r3.Vector) Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vecs = append(b.vecs, v)
	return Sample{Index: len(b.vecs) - 1, Channel: b.channel, Vec: v}
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vecs)
}

// Reset drops all readings.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.vecs = nil
	b.mu.Unlock()
}

// Snapshot returns a copy of the readings in arrival order.
func (b *Buffer) Snapshot() []r3.Vector {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]r3.Vector, len(b.vecs))
	copy(out, b.vecs)
	return out
}

// Samples returns the readings as indexed samples.
func (b *Buffer) Samples() []Sample {
	vecs := b.Snapshot()
	out := make([]Sample, len(vecs))
	for i, v := range vecs {
		out[i] = Sample{Index: i, Channel: b.channel, Vec: v}
	}
	return out
}
