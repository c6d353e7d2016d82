package acct

import "github.com/pkg/errors"

var (
	ErrPoolExhausted     = errors.New("accounting record pool exhausted")
	ErrSubsysExhausted   = errors.New("subsystem record pool exhausted")
	ErrTokenExhausted    = errors.New("token limit reached")
	ErrNotMapped         = errors.New("process is not mapped")
	ErrAlreadyConfigured = errors.New("process already configured")
	ErrShutdown          = errors.New("engine is shut down")
)
