package clock_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/clock"
)

func TestMonotonic_NeverGoesBack(t *testing.T) {
	var src clock.Monotonic
	prev := src.Now()
	for i := 0; i < 1000; i++ {
		now := src.Now()
		require.GreaterOrEqual(t, now.Cycles, prev.Cycles)
		require.GreaterOrEqual(t, now.Wall, prev.Wall)
		prev = now
	}
}

func TestManual(t *testing.T) {
	m := clock.NewManual()
	require.Equal(t, clock.Stamp{}, m.Now())

	start := m.Now()
	m.Advance(100, 40)
	m.Advance(1, 2)
	require.Equal(t, clock.Stamp{Cycles: 101, Wall: 42}, m.Now().Sub(start))
}
