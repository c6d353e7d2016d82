package consumer

import (
	"github.com/maxgio92/kacct/pkg/shm"
)

// IndexedSet holds subsystem records by position. Idx maps a subsystem id
// to its position, or -1; IDs maps a position back to the id, so that
// Idx[IDs[i]] == i for every i < Len().
type IndexedSet struct {
	Idx [shm.NumSubsystems]int
	Set []shm.SubsysRecord
	IDs []shm.SubsysID

	merged bool
	freed  bool
}

func NewIndexedSet(capacity int) *IndexedSet {
	s := &IndexedSet{
		Set: make([]shm.SubsysRecord, 0, capacity),
		IDs: make([]shm.SubsysID, 0, capacity),
	}
	for i := range s.Idx {
		s.Idx[i] = -1
	}
	return s
}

func (s *IndexedSet) Len() int {
	return len(s.IDs)
}

// Get returns the record of subsystem id.
func (s *IndexedSet) Get(id shm.SubsysID) (*shm.SubsysRecord, bool) {
	if int(id) >= shm.NumSubsystems {
		return nil, false
	}
	i := s.Idx[id]
	if i < 0 {
		return nil, false
	}
	return &s.Set[i], true
}

// Total sums every record of the set.
func (s *IndexedSet) Total() shm.SubsysRecord {
	var t shm.SubsysRecord
	t.Reset()
	for i := range s.Set {
		t.Add(&s.Set[i])
	}
	return t
}

func (s *IndexedSet) insert(id shm.SubsysID, r *shm.SubsysRecord) {
	s.Idx[id] = len(s.Set)
	s.Set = append(s.Set, *r)
	s.Set[len(s.Set)-1].InUse = 0
	s.IDs = append(s.IDs, id)
}

func (s *IndexedSet) clone() *IndexedSet {
	c := &IndexedSet{
		Idx: s.Idx,
		Set: append([]shm.SubsysRecord{}, s.Set...),
		IDs: append([]shm.SubsysID{}, s.IDs...),
	}
	return c
}

func (s *IndexedSet) free() {
	s.freed = true
	s.Set, s.IDs = nil, nil
	for i := range s.Idx {
		s.Idx[i] = -1
	}
}

// Aggregator accumulates indexed sets into a bounded union.
type Aggregator struct {
	set      *IndexedSet
	capacity int
	residual int
}

// NewAggregator creates an aggregator holding up to capacity subsystems.
// A non-positive capacity means the whole id space.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 || capacity > shm.NumSubsystems {
		capacity = shm.NumSubsystems
	}
	return &Aggregator{
		set:      NewIndexedSet(capacity),
		capacity: capacity,
	}
}

// Set returns a copy of the aggregated set. The copy can itself be merged.
func (a *Aggregator) Set() *IndexedSet {
	return a.set.clone()
}

// Residual returns how many subsystem records were dropped so far because
// the aggregator was full.
func (a *Aggregator) Residual() int {
	return a.residual
}

func (a *Aggregator) Len() int {
	return a.set.Len()
}

// Get returns the aggregated record of subsystem id.
func (a *Aggregator) Get(id shm.SubsysID) (*shm.SubsysRecord, bool) {
	return a.set.Get(id)
}

// Merge folds other into agg. Records of subsystems agg already holds are
// summed field by field, credits reduced with min and max; others are added
// while capacity lasts. It returns how many records did not fit. A set can
// be merged once.
func Merge(agg *Aggregator, other *IndexedSet) (int, error) {
	if other.freed {
		return 0, ErrSetFreed
	}
	if other.merged {
		return 0, ErrAlreadyMerged
	}

	residual := 0
	for i, id := range other.IDs {
		src := &other.Set[i]
		if dst, ok := agg.set.Get(id); ok {
			dst.Add(src)
			continue
		}
		if agg.set.Len() >= agg.capacity {
			residual++
			continue
		}
		agg.set.insert(id, src)
	}
	other.merged = true
	agg.residual += residual

	return residual, nil
}
