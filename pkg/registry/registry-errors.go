package registry

import "github.com/pkg/errors"

var (
	ErrTableFull = errors.New("registry probe window is full")
	ErrBadCPU    = errors.New("invalid processor")
	ErrBadSize   = errors.New("invalid registry size")
)
