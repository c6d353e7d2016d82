package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/internal/utils"
)

func TestHashPid(t *testing.T) {
	require.Equal(t, utils.HashPid(42, 8), utils.HashPid(42, 8),
		"Hash should be deterministic for the same input",
	)
	require.NotEqual(t, utils.HashPid(1, 8), utils.HashPid(2, 8),
		"Hash should differ for adjacent pids",
	)

	for pid := int32(0); pid < 1024; pid++ {
		require.Less(t, utils.HashPid(pid, 4), uint32(16))
	}
	require.Zero(t, utils.HashPid(1234, 0))
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		n, align, want int
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{7, 0, 7},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, utils.RoundUp(tt.n, tt.align))
	}
}
