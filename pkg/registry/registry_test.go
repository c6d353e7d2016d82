package registry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/registry"
)

type ctx struct{ pid int32 }

func TestNew_Validation(t *testing.T) {
	_, err := registry.New[*ctx](0, 4)
	require.ErrorIs(t, err, registry.ErrBadCPU)

	_, err = registry.New[*ctx](1, 0)
	require.ErrorIs(t, err, registry.ErrBadSize)

	_, err = registry.New[*ctx](1, registry.MaxBits+1)
	require.ErrorIs(t, err, registry.ErrBadSize)
}

func TestRegistry_InsertLookupRemove(t *testing.T) {
	r, err := registry.New[*ctx](4, 6)
	require.NoError(t, err)
	require.Equal(t, 4, r.CPUs())

	c := &ctx{pid: 100}
	require.NoError(t, r.Insert(1, 100, c))

	got, ok := r.Lookup(1, 100)
	require.True(t, ok)
	require.Same(t, c, got)

	_, ok = r.Lookup(0, 100)
	require.False(t, ok, "tables are per processor")

	// The same reference can live on several processors.
	require.NoError(t, r.Insert(3, 100, c))
	require.Equal(t, 2, r.Remove(100))

	_, ok = r.Lookup(1, 100)
	require.False(t, ok)
	_, ok = r.Lookup(3, 100)
	require.False(t, ok)
	require.Zero(t, r.Len(1))
}

func TestRegistry_InsertReplaces(t *testing.T) {
	r, err := registry.New[*ctx](1, 4)
	require.NoError(t, err)

	require.NoError(t, r.Insert(0, 7, &ctx{pid: 7}))
	c := &ctx{pid: 7}
	require.NoError(t, r.Insert(0, 7, c))
	require.Equal(t, 1, r.Len(0))

	got, ok := r.Lookup(0, 7)
	require.True(t, ok)
	require.Same(t, c, got)
}

func TestRegistry_BadCPU(t *testing.T) {
	r, err := registry.New[*ctx](2, 4)
	require.NoError(t, err)

	require.ErrorIs(t, r.Insert(2, 1, &ctx{}), registry.ErrBadCPU)
	_, ok := r.Lookup(-1, 1)
	require.False(t, ok)
	require.Zero(t, r.Len(5))
}

func TestRegistry_TableFull(t *testing.T) {
	// Two buckets: the probe window covers the whole table.
	r, err := registry.New[*ctx](1, 1)
	require.NoError(t, err)

	require.NoError(t, r.Insert(0, 1, &ctx{pid: 1}))
	require.NoError(t, r.Insert(0, 2, &ctx{pid: 2}))
	require.ErrorIs(t, r.Insert(0, 3, &ctx{pid: 3}), registry.ErrTableFull)

	// Earlier entries survive a failed insert.
	_, ok := r.Lookup(0, 1)
	require.True(t, ok)
	_, ok = r.Lookup(0, 2)
	require.True(t, ok)

	r.Remove(1)
	require.NoError(t, r.Insert(0, 3, &ctx{pid: 3}))
}

func TestRegistry_ConcurrentLookup(t *testing.T) {
	r, err := registry.New[*ctx](2, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for cpu := 0; cpu < 2; cpu++ {
		wg.Add(2)
		go func(cpu int) {
			defer wg.Done()
			for pid := int32(1); pid <= 64; pid++ {
				_ = r.Insert(cpu, pid, &ctx{pid: pid})
			}
		}(cpu)
		go func(cpu int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if c, ok := r.Lookup(cpu, int32(i%64+1)); ok {
					assert.Equal(t, int32(i%64+1), c.pid)
				}
			}
		}(cpu)
	}
	wg.Wait()
}
