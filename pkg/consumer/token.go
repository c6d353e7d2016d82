package consumer

import (
	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/pkg/shm"
)

// GetToken hands out a user token: a previously freed one first, then one
// the engine already minted, then one from a fresh batch. It fails when the
// engine refuses to mint more.
func (h *Handle) GetToken() (shm.TokenID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return shm.TokenNull, ErrClosed
	}

	var tk shm.TokenID
	if n := len(h.free); n > 0 {
		tk = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		if len(h.ready) == 0 {
			h.ready = append(h.ready, h.region.Control.TakeTokens()...)
		}
		if len(h.ready) == 0 {
			if _, err := h.engine.RequestTokens(h.pid); err != nil {
				return shm.TokenNull, errors.Wrap(err, "failed to request tokens")
			}
			h.ready = append(h.ready, h.region.Control.TakeTokens()...)
		}
		if len(h.ready) == 0 {
			return shm.TokenNull, ErrNoTokens
		}
		tk = h.ready[0]
		h.ready = h.ready[1:]
	}
	h.tokens[tk] = tokenActive

	return tk, nil
}

// SwitchToken charges the next calls to tk. With reset the token's next
// measurement starts from scratch even if the previous one was not read.
func (h *Handle) SwitchToken(tk shm.TokenID, reset bool) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var flags uint32
	if reset {
		flags |= shm.FlagReset
	}
	callID, err := h.declare(tk, flags)
	if err != nil {
		return 0, err
	}
	h.current = tk

	return callID, nil
}

// FreeToken puts tk on the free list. An unread measurement of the token is
// read and discarded first so that its records go back to the pools. A
// measurement still in progress cannot be read; the next owner of tk then
// starts with a reset instead of inheriting it.
func (h *Handle) FreeToken(tk shm.TokenID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.tokens[tk] != tokenActive {
		return errors.Wrapf(ErrTokenNotActive, "token %d", tk)
	}

	if _, ok := h.pending[tk]; ok {
		rec, err := h.read(tk)
		switch {
		case err == nil:
			set, err := h.expand(rec)
			if err != nil {
				return errors.Wrapf(err, "failed to drain token %d", tk)
			}
			h.freeSet(set)
		case errors.Is(err, ErrNotReady):
			h.logger.Warn().Uint32("token", uint32(tk)).Msg("freeing a token with a measurement in progress")
			h.resetNext[tk] = true
		}
		delete(h.pending, tk)
	}

	if h.current == tk {
		h.current = shm.TokenDefault
	}
	h.tokens[tk] = tokenFree
	h.free = append(h.free, tk)

	return nil
}

// Trim gives the free tokens beyond the configured reserve back to the
// engine and returns how many were released.
func (h *Handle) Trim() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	if len(h.free) <= h.keepFree {
		return 0, nil
	}

	ids := append([]shm.TokenID{}, h.free[h.keepFree:]...)
	n, err := h.engine.ReleaseTokens(h.pid, ids)
	if err != nil {
		return 0, errors.Wrap(err, "failed to release tokens")
	}
	for _, tk := range ids {
		delete(h.tokens, tk)
		delete(h.resetNext, tk)
	}
	h.free = h.free[:h.keepFree]

	return n, nil
}
