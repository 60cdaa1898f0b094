// Package metrics records dashboard states to SQLite for later analysis.
package metrics

import (
	"context"

	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
)

type service struct {
	repo Repository
	log  logger.Logger
}

type noopRecorder struct{}

// NewRecorder returns a SQLite-backed recorder, or a no-op one when cfg is
// disabled.
func NewRecorder(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("State recording disabled, using no-op recorder")
		return noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, log: log}, nil
}

func (s *service) Record(ctx context.Context, state dashboard.State) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Record(NewStateRow(state)); err != nil {
		return errFactory.Wrap(ErrRecordState, err)
	}

	return nil
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (noopRecorder) Record(context.Context, dashboard.State) error { return nil }

func (noopRecorder) Close() error { return nil }

// Sink adapts r to a dashboard sink. Failures are logged, never propagated
// into the sampling loop.
func Sink(ctx context.Context, r Recorder, log logger.Logger) dashboard.Sink {
	return func(st dashboard.State) {
		if err := r.Record(ctx, st); err != nil {
			if appErr, ok := err.(errors.Error); ok {
				log.ErrorWithCode(appErr).Msg("Failed to record state")
				return
			}
			log.Error().Err(err).Msg("Failed to record state")
		}
	}
}
