package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/powerdash/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrSampleInvalid)
	assert.Equal(t, "Sample payload could not be decoded", err.Error())

	wrapped := errFactory.Wrap(errors.ErrSampleUnavailable, fmt.Errorf("exit status 1"))
	assert.Equal(t, "Sample unavailable: exit status 1", wrapped.Error())

	withData := errFactory.WithData(errors.ErrSensorMissing, "cpu_temp")
	assert.Equal(t, "Sensor missing from sample: cpu_temp", withData.Error())

	custom := errFactory.WithMessage(errors.ErrInternal, "boom")
	assert.Equal(t, "boom", custom.Error())
}

func TestUnknownCodeFallsBackToCode(t *testing.T) {
	err := errors.New().New(errors.ErrorCode("made_up"))
	assert.Equal(t, "made_up", err.Error())
}

func TestCodeOf(t *testing.T) {
	inner := errors.New().New(errors.ErrSampleInvalid)
	outer := fmt.Errorf("tick: %w", inner)

	assert.Equal(t, errors.ErrSampleInvalid, errors.CodeOf(outer))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(fmt.Errorf("plain")))
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := errors.New().New(errors.ErrSampleInvalid)
	outer := errors.New().Wrap(errors.ErrSampleUnavailable, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrSampleUnavailable))
	assert.True(t, errors.HasCode(outer, errors.ErrSampleInvalid))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
}
