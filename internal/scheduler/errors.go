package scheduler

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	ErrBackendUnreachable = errors.ErrBackendUnreachable
	ErrSampleInvalid      = errors.ErrSampleInvalid
)
