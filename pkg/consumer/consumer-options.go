package consumer

import (
	log "github.com/rs/zerolog"
)

type HandleOptions struct {
	// keepFree is how many freed tokens Trim leaves on the free list.
	keepFree int

	logger *log.Logger
}

type HandleOpt func(*Handle)

func WithLogger(logger *log.Logger) HandleOpt {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithKeepFree sets how many freed tokens Trim keeps for reuse.
func WithKeepFree(n int) HandleOpt {
	return func(h *Handle) {
		h.keepFree = n
	}
}
