// Package clock provides the counter sources snapshotted on every
// subsystem boundary crossing.
package clock

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Stamp is a pair of counter readings taken together.
type Stamp struct {
	// Cycles is the cycle counter reading.
	Cycles int64
	// Wall is the monotonic wall-clock reading in nanoseconds.
	Wall int64
}

// Sub returns the per-counter difference s - o.
func (s Stamp) Sub(o Stamp) Stamp {
	return Stamp{Cycles: s.Cycles - o.Cycles, Wall: s.Wall - o.Wall}
}

// Source reads both counters. Implementations are stateless from the
// caller's point of view and safe for concurrent use.
type Source interface {
	Now() Stamp
}

// Monotonic reads CLOCK_MONOTONIC_RAW as the cycle counter and
// CLOCK_MONOTONIC as the wall clock. A reading that fails repeats the
// previous one. The zero value is ready to use.
type Monotonic struct {
	gettime func(clockID int32, ts *unix.Timespec) error

	cycles atomic.Int64
	wall   atomic.Int64
}

func NewMonotonic() *Monotonic {
	return &Monotonic{gettime: unix.ClockGettime}
}

func (m *Monotonic) Now() Stamp {
	return Stamp{
		Cycles: m.read(unix.CLOCK_MONOTONIC_RAW, &m.cycles),
		Wall:   m.read(unix.CLOCK_MONOTONIC, &m.wall),
	}
}

// read retries clock_gettime on EINTR.
func (m *Monotonic) read(clockID int32, last *atomic.Int64) int64 {
	gettime := m.gettime
	if gettime == nil {
		gettime = unix.ClockGettime
	}
	var ts unix.Timespec
	for {
		err := gettime(clockID, &ts)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			return last.Load()
		}
	}
	n := ts.Nano()
	last.Store(n)
	return n
}

// Manual is a Source that only moves when advanced.
type Manual struct {
	cycles atomic.Int64
	wall   atomic.Int64
}

func NewManual() *Manual {
	return new(Manual)
}

// Advance moves both counters forward.
func (m *Manual) Advance(cycles, wall int64) {
	m.cycles.Add(cycles)
	m.wall.Add(wall)
}

func (m *Manual) Now() Stamp {
	return Stamp{Cycles: m.cycles.Load(), Wall: m.wall.Load()}
}
