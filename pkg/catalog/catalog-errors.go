package catalog

import "github.com/pkg/errors"

var (
	ErrDuplicateID   = errors.New("duplicate subsystem id")
	ErrDuplicateName = errors.New("duplicate subsystem name")
	ErrBadID         = errors.New("subsystem id out of range")
	ErrEmptyName     = errors.New("subsystem name is empty")
	ErrUnknown       = errors.New("unknown subsystem")
)
