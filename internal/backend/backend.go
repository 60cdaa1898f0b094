// Package backend provides the hardware and host telemetry sources the
// scheduler samples.
package backend

import (
	"context"
	"fmt"
	"os/exec"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

// Backend supplies the two sampling cadences. Implementations must honor
// ctx cancellation and deadlines.
type Backend interface {
	// SampleFast reads the cheap power and thermal rails.
	SampleFast(ctx context.Context) (snapshot.Rails, error)
	// SampleSlow reads the process table and battery and memory state.
	SampleSlow(ctx context.Context) (snapshot.Host, error)
}

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	errFactory := errors.New()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if ctx.Err() != nil {
		return nil, errFactory.Wrap(ErrTimeout, ctx.Err())
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrCommandFailed, fmt.Errorf("%s: %w", name, err))
	}

	return out, nil
}
