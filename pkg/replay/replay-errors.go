package replay

import "github.com/pkg/errors"

var (
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnknownProcess  = errors.New("unknown process")
	ErrUnknownToken    = errors.New("unknown token alias")
)
