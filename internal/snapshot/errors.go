package snapshot

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	ErrSampleInvalid = errors.ErrSampleInvalid
	ErrSensorMissing = errors.ErrSensorMissing
)
