// Package hyp models the ring of scheduling events a hypervisor shares with
// the guest: every time a vCPU is descheduled or resumed the hypervisor
// appends an event, and the guest drains the ring at its own pace.
//
// The ring is bounded and overwrites the oldest events. Every event gets a
// monotonically increasing sequence number so that readers can keep their
// own position and resume from it: draining twice from the same position
// never yields the same event twice once the position has been advanced.
//
// Readers never take a lock. Each slot carries the sequence it holds and a
// reader that races with the writer sees a mismatch and counts the event as
// lost.
package hyp

import (
	"sync"
	"sync/atomic"
)

// Flags describe a scheduling event.
type Flags uint32

const (
	// FlagIn marks a vCPU being scheduled back in.
	FlagIn Flags = 1 << iota
	// FlagOut marks a vCPU being scheduled out.
	FlagOut
	// FlagYield marks a voluntary yield.
	FlagYield
	// FlagBlock marks a vCPU that blocked.
	FlagBlock
)

const DefaultRingSize = 1024

// Event is a single scheduling event.
type Event struct {
	CPU       int
	Timestamp int64
	Cycles    int64
	Flags     Flags
	Credit    int64
}

type slot struct {
	// seq is the event sequence plus one, zero while being written.
	seq       atomic.Uint64
	cpu       atomic.Int32
	flags     atomic.Uint32
	timestamp atomic.Int64
	cycles    atomic.Int64
	credit    atomic.Int64
}

// Ring is a bounded, overwriting ring of scheduling events.
type Ring struct {
	// mu serializes writers only.
	mu      sync.Mutex
	slots   []slot
	written atomic.Uint64
}

// NewRing creates a ring holding up to capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{slots: make([]slot, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Head returns the sequence number the next event will get.
func (r *Ring) Head() uint64 {
	return r.written.Load()
}

// Publish appends an event, overwriting the oldest one if the ring is full,
// and returns its sequence number.
func (r *Ring) Publish(ev Event) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.written.Load()
	s := &r.slots[seq%uint64(len(r.slots))]
	s.seq.Store(0)
	s.cpu.Store(int32(ev.CPU))
	s.flags.Store(uint32(ev.Flags))
	s.timestamp.Store(ev.Timestamp)
	s.cycles.Store(ev.Cycles)
	s.credit.Store(ev.Credit)
	s.seq.Store(seq + 1)
	r.written.Store(seq + 1)

	return seq
}

// Drain calls fn for every event of cpu with a sequence in [from, Head()).
// It returns the position to resume from and the number of events that were
// overwritten before they could be read.
func (r *Ring) Drain(from uint64, cpu int, fn func(Event)) (next, lost uint64) {
	head := r.written.Load()
	if from >= head {
		return from, 0
	}
	if oldest := head - min(head, uint64(len(r.slots))); from < oldest {
		lost = oldest - from
		from = oldest
	}

	for seq := from; seq < head; seq++ {
		s := &r.slots[seq%uint64(len(r.slots))]
		if s.seq.Load() != seq+1 {
			lost++
			continue
		}
		ev := Event{
			CPU:       int(s.cpu.Load()),
			Flags:     Flags(s.flags.Load()),
			Timestamp: s.timestamp.Load(),
			Cycles:    s.cycles.Load(),
			Credit:    s.credit.Load(),
		}
		if s.seq.Load() != seq+1 {
			lost++
			continue
		}
		if ev.CPU == cpu {
			fn(ev)
		}
	}

	return head, lost
}
