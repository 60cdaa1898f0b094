package attribution

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	ErrReadLabels  = errors.ErrReadLabels
	ErrParseLabels = errors.ErrParseLabels
)
