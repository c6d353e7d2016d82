package utils

// fibMul is 2^32 divided by the golden ratio.
const fibMul = 2654435769

// HashPid spreads a process id over a table of 1<<bits buckets.
func HashPid(pid int32, bits uint) uint32 {
	if bits == 0 {
		return 0
	}
	return (uint32(pid) * fibMul) >> (32 - bits)
}

// RoundUp rounds n up to the next multiple of align.
func RoundUp(n, align int) int {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}
