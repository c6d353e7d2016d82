// Package registry implements the per-CPU process registry: one fixed-size
// open-addressing table per processor mapping a pid to its accounting
// context.
//
// Lookup is lock-free and never allocates, so it can run on the hot path of
// every boundary crossing. Insert and Remove take the table's lock and may
// allocate. A pid hashes to a home bucket and may live in any of the
// probeWindow buckets that follow it; when the whole window is taken the
// insert fails and the pid is simply not accounted on that processor.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/internal/utils"
)

const (
	probeWindow = 8

	DefaultBits = 8
	MaxBits     = 20
)

type entry[V any] struct {
	pid int32
	val V
}

type table[V any] struct {
	mu      sync.Mutex
	buckets []atomic.Pointer[entry[V]]
	bits    uint
	mask    uint32
	len     atomic.Int32
}

func newTable[V any](bits uint) *table[V] {
	return &table[V]{
		buckets: make([]atomic.Pointer[entry[V]], 1<<bits),
		bits:    bits,
		mask:    1<<bits - 1,
	}
}

func (t *table[V]) window() int {
	if len(t.buckets) < probeWindow {
		return len(t.buckets)
	}
	return probeWindow
}

func (t *table[V]) lookup(pid int32) (V, bool) {
	home := utils.HashPid(pid, t.bits)
	for i := 0; i < t.window(); i++ {
		e := t.buckets[(home+uint32(i))&t.mask].Load()
		if e != nil && e.pid == pid {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

func (t *table[V]) insert(pid int32, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	home := utils.HashPid(pid, t.bits)
	free := -1
	for i := 0; i < t.window(); i++ {
		idx := int((home + uint32(i)) & t.mask)
		e := t.buckets[idx].Load()
		if e != nil && e.pid == pid {
			t.buckets[idx].Store(&entry[V]{pid: pid, val: v})
			return nil
		}
		if e == nil && free < 0 {
			free = idx
		}
	}
	if free < 0 {
		return errors.Wrapf(ErrTableFull, "pid %d", pid)
	}
	t.buckets[free].Store(&entry[V]{pid: pid, val: v})
	t.len.Add(1)

	return nil
}

func (t *table[V]) remove(pid int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	home := utils.HashPid(pid, t.bits)
	for i := 0; i < t.window(); i++ {
		idx := (home + uint32(i)) & t.mask
		if e := t.buckets[idx].Load(); e != nil && e.pid == pid {
			t.buckets[idx].Store(nil)
			t.len.Add(-1)
			return true
		}
	}
	return false
}

// Registry holds one table per processor.
type Registry[V any] struct {
	tables []*table[V]
}

// New creates a registry for cpus processors with 1<<bits buckets each.
func New[V any](cpus int, bits uint) (*Registry[V], error) {
	if cpus <= 0 {
		return nil, errors.Wrapf(ErrBadCPU, "%d processors", cpus)
	}
	if bits == 0 || bits > MaxBits {
		return nil, errors.Wrapf(ErrBadSize, "%d bucket bits", bits)
	}
	r := &Registry[V]{tables: make([]*table[V], cpus)}
	for i := range r.tables {
		r.tables[i] = newTable[V](bits)
	}

	return r, nil
}

// CPUs returns the number of processors the registry covers.
func (r *Registry[V]) CPUs() int {
	return len(r.tables)
}

// Lookup returns the value registered for pid on cpu.
func (r *Registry[V]) Lookup(cpu int, pid int32) (V, bool) {
	if cpu < 0 || cpu >= len(r.tables) {
		var zero V
		return zero, false
	}
	return r.tables[cpu].lookup(pid)
}

// Insert registers v for pid on cpu, replacing any previous value.
func (r *Registry[V]) Insert(cpu int, pid int32, v V) error {
	if cpu < 0 || cpu >= len(r.tables) {
		return errors.Wrapf(ErrBadCPU, "cpu %d", cpu)
	}
	return r.tables[cpu].insert(pid, v)
}

// Remove drops pid from every processor's table and returns how many
// tables held it.
func (r *Registry[V]) Remove(pid int32) int {
	n := 0
	for _, t := range r.tables {
		if t.remove(pid) {
			n++
		}
	}
	return n
}

// Len returns the number of pids registered on cpu.
func (r *Registry[V]) Len(cpu int) int {
	if cpu < 0 || cpu >= len(r.tables) {
		return 0
	}
	return int(r.tables[cpu].len.Load())
}
