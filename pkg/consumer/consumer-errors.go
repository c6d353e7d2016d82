package consumer

import "github.com/pkg/errors"

var (
	ErrNotReady        = errors.New("measurement not ready")
	ErrPoolExhausted   = errors.New("measurement dropped: accounting pool exhausted")
	ErrTokenNotActive  = errors.New("token is not held active by this handle")
	ErrAlreadyExpanded = errors.New("record already expanded")
	ErrAlreadyMerged   = errors.New("indexed set already merged")
	ErrSetFreed        = errors.New("indexed set already freed")
	ErrClosed          = errors.New("handle is closed")
	ErrNoTokens        = errors.New("engine published no tokens")
)
