package capture

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

const (
	// ringSlots at 32 ms per period holds about four seconds of audio.
	ringSlots = 128

	// maxSlotSamples bounds a single device period (32 ms at 48 kHz is 1536).
	maxSlotSamples = 2048
)

type slot struct {
	samples [maxSlotSamples]float32
	n       int
}

// ring is a lock-free single-producer single-consumer queue of audio periods.
// The producer is the device callback, which must never block.
type ring struct {
	slots   [ringSlots]slot
	head    atomic.Uint64 // next write, producer only
	tail    atomic.Uint64 // next read, consumer only
	dropped atomic.Uint64
}

// pushLE decodes little-endian float32 bytes straight into the next free
// slot. It reports false and counts a drop when the consumer is behind.
// Samples past maxSlotSamples are discarded.
func (r *ring) pushLE(data []byte) bool {
	head, tail := r.head.Load(), r.tail.Load()
	if head-tail >= ringSlots {
		r.dropped.Add(1)
		return false
	}
	s := &r.slots[head%ringSlots]
	n := min(len(data)/4, maxSlotSamples)
	for i := range n {
		s.samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	s.n = n
	r.head.Add(1)
	return true
}

// pop copies the oldest period into a new slice, or returns nil when empty.
// The copy happens before the slot is released to the producer.
func (r *ring) pop() []float32 {
	head, tail := r.head.Load(), r.tail.Load()
	if head == tail {
		return nil
	}
	s := &r.slots[tail%ringSlots]
	out := make([]float32, s.n)
	copy(out, s.samples[:s.n])
	r.tail.Add(1)
	return out
}

// Dropped returns how many periods were discarded because the ring was full.
func (r *ring) Dropped() uint64 { return r.dropped.Load() }
