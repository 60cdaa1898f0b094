package backend

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	ErrSampleInvalid     = errors.ErrSampleInvalid
	ErrSampleUnavailable = errors.ErrSampleUnavailable
	ErrCommandFailed     = errors.ErrCommandFailed
	ErrParseOutput       = errors.ErrParseOutput
	ErrStreamClosed      = errors.ErrStreamClosed
	ErrTimeout           = errors.ErrTimeout
)
