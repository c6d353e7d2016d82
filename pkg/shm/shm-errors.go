package shm

import "github.com/pkg/errors"

var (
	ErrProtocolMismatch = errors.New("shared memory layout mismatch")
	ErrBadLayout        = errors.New("invalid shared memory layout")
)
