package backend

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/snapshot"
)

const maxRecordSize = 1 << 20

// Stream serves the most recent record of a line-delimited JSON stream.
// Both cadences read from the same record.
type Stream struct {
	now    func() time.Time
	maxAge time.Duration
	replay bool

	mu         sync.Mutex
	latest     snapshot.Snapshot
	receivedAt time.Time
	has        bool
	invalid    uint64
	err        error

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithMaxAge makes a record older than d unavailable, so a helper that stops
// writing without exiting is reported as failing. Zero keeps the latest
// record indefinitely, which suits replaying a recording.
func WithMaxAge(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.maxAge = d
	}
}

// WithReplay keeps serving the last record after a clean end of input, for
// replaying a recorded stream file.
func WithReplay() StreamOption {
	return func(s *Stream) {
		s.replay = true
	}
}

// NewStream starts consuming r until it ends or ctx is done.
func NewStream(ctx context.Context, r io.Reader, opts ...StreamOption) *Stream {
	return newStream(ctx, r, nil, opts)
}

// OpenStream consumes a recorded stream file, or standard input for "-".
func OpenStream(ctx context.Context, path string, opts ...StreamOption) (*Stream, error) {
	if path == "-" {
		return NewStream(ctx, os.Stdin, opts...), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New().Wrap(ErrSampleUnavailable, err)
	}

	return newStream(ctx, f, f.Close, opts), nil
}

// StartStreamCommand runs a helper that prints one record per line and
// consumes its output. The helper is killed when ctx is done.
func StartStreamCommand(ctx context.Context, args []string, opts ...StreamOption) (*Stream, error) {
	errFactory := errors.New()

	if len(args) == 0 {
		return nil, errFactory.WithData(ErrCommandFailed, "empty stream command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errFactory.Wrap(ErrCommandFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errFactory.Wrap(ErrCommandFailed, err)
	}

	return newStream(ctx, stdout, cmd.Wait, opts), nil
}

func newStream(ctx context.Context, r io.Reader, closeFn func() error, opts []StreamOption) *Stream {
	s := &Stream{
		now:   time.Now,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.consume(ctx, r, closeFn)

	return s
}

func (s *Stream) consume(ctx context.Context, r io.Reader, closeFn func() error) {
	defer close(s.done)
	defer s.markReady()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}

		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		received := s.now()
		snap, err := snapshot.Decode(line, received)
		if err != nil {
			s.mu.Lock()
			s.invalid++
			s.mu.Unlock()
			logger.Debug().Err(err).Msg("Skipping invalid stream record")
			continue
		}

		s.mu.Lock()
		s.latest = snap
		s.receivedAt = received
		s.has = true
		s.mu.Unlock()
		s.markReady()
	}

	cause := sc.Err()
	if closeFn != nil {
		if err := closeFn(); err != nil && cause == nil && ctx.Err() == nil {
			cause = err
		}
	}
	if cause == nil {
		cause = ctx.Err()
	}
	if cause == nil && s.replay && s.has {
		return
	}

	s.mu.Lock()
	s.err = errors.New().Wrap(ErrStreamClosed, cause)
	s.mu.Unlock()
}

func (s *Stream) markReady() {
	s.once.Do(func() { close(s.ready) })
}

// Ready blocks until the first record arrives or the stream ends.
func (s *Stream) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return errors.New().Wrap(ErrTimeout, ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.has {
		return errors.New().Wrap(ErrSampleUnavailable, s.err)
	}

	return nil
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Invalid returns how many records could not be decoded.
func (s *Stream) Invalid() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.invalid
}

func (s *Stream) current() (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.err != nil:
		return snapshot.Snapshot{}, errors.New().Wrap(ErrSampleUnavailable, s.err)
	case !s.has:
		return snapshot.Snapshot{}, errors.New().WithData(ErrSampleUnavailable, "no record received yet")
	case s.maxAge > 0:
		if age := s.now().Sub(s.receivedAt); age > s.maxAge {
			msg := "latest record is " + age.Round(time.Millisecond).String() + " old"
			return snapshot.Snapshot{}, errors.New().WithData(ErrSampleUnavailable, msg)
		}
	}

	return s.latest, nil
}

func (s *Stream) SampleFast(context.Context) (snapshot.Rails, error) {
	snap, err := s.current()
	if err != nil {
		return snapshot.Rails{}, err
	}

	return snap.Rails, nil
}

func (s *Stream) SampleSlow(context.Context) (snapshot.Host, error) {
	snap, err := s.current()
	if err != nil {
		return snapshot.Host{}, err
	}

	return snap.Host, nil
}
