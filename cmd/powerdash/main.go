// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/powerdash/internal/attribution"
	"codeberg.org/mutker/powerdash/internal/backend"
	"codeberg.org/mutker/powerdash/internal/cache"
	"codeberg.org/mutker/powerdash/internal/config"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/metrics"
	"codeberg.org/mutker/powerdash/internal/pid"
	"codeberg.org/mutker/powerdash/internal/scheduler"
	"codeberg.org/mutker/powerdash/internal/server"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"codeberg.org/mutker/powerdash/internal/ui"
	"github.com/spf13/pflag"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stdout, "Usage: powerdash [snapshot|stream|dashboard|serve] [flags]\n\n%s", config.Usage())
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries records in snapshot and stream modes; the dashboard
	// owns the terminal, so its logs go to stderr as well.
	out := io.Writer(os.Stdout)
	if cfg.Mode != config.ModeServe {
		out = os.Stderr
	}
	if err := logger.Init(cfg.LogLevel, logger.IsService(), out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Str("mode", string(cfg.Mode)).Msg("Config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel); err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.ErrorWithCode(appErr).Msg("powerdash failed")
		} else {
			logger.Error().Err(err).Msg("powerdash failed")
		}
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	go handleSignals(cancel, b)

	builder, err := newBuilder()
	if err != nil {
		return err
	}

	schedCfg := scheduler.Config{
		FastInterval:   cfg.FastInterval,
		SlowInterval:   cfg.SlowInterval,
		SampleTimeout:  cfg.SampleTimeout,
		HistorySize:    cfg.HistorySize,
		ShiftThreshold: cfg.ShiftThreshold,
	}

	if cfg.Mode == config.ModeSnapshot {
		state, err := scheduler.New(schedCfg, b, builder, nil).Snapshot(ctx)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, state)
	}

	guard := pid.New(cfg.PIDDir)
	if err := guard.Write(); err != nil {
		return err
	}
	defer func() {
		if err := guard.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	sinks, closers, err := newSinks(ctx)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close sink")
			}
		}
	}()
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case config.ModeStream:
		enc := json.NewEncoder(os.Stdout)
		sinks = append(sinks, func(st dashboard.State) {
			if err := enc.Encode(st); err != nil {
				logger.Error().Err(err).Msg("Failed to write record")
				cancel()
			}
		})
		return scheduler.New(schedCfg, b, builder, dashboard.Fanout(sinks...)).Run(ctx)

	case config.ModeDashboard:
		feed := ui.NewFeed()
		sinks = append(sinks, feed.Sink)
		sched := scheduler.New(schedCfg, b, builder, dashboard.Fanout(sinks...))

		errCh := make(chan error, 1)
		go func() {
			err := sched.Run(ctx)
			if err != nil {
				cancel()
			}
			errCh <- err
		}()

		uiErr := ui.Run(ctx, feed, cancel)
		cancel()
		if err := <-errCh; err != nil {
			return err
		}
		return uiErr

	case config.ModeServe:
		collector := telemetry.NewCollector()
		srv := server.New(cfg.Listen, collector, logger.Default())
		sinks = append(sinks, collector.Observe, srv.Publish)
		sched := scheduler.New(schedCfg, b, builder, dashboard.Fanout(sinks...))

		return srv.RunWith(ctx, sched.Run)
	}

	return errors.New().WithData(errors.ErrInvalidMode, cfg.Mode)
}

func newBackend(ctx context.Context) (backend.Backend, error) {
	if cfg.Backend == config.BackendStream {
		var (
			stream *backend.Stream
			err    error
		)
		live := backend.WithMaxAge(cfg.StreamStaleAfter())
		switch cfg.StreamFile {
		case "":
			logger.Debug().Strs("command", cfg.StreamCommand).Msg("Starting stream helper")
			stream, err = backend.StartStreamCommand(ctx, cfg.StreamCommand, live)
		case "-":
			stream, err = backend.OpenStream(ctx, cfg.StreamFile, live)
		default:
			logger.Debug().Str("file", cfg.StreamFile).Msg("Replaying recorded stream")
			stream, err = backend.OpenStream(ctx, cfg.StreamFile, backend.WithReplay())
		}
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	return backend.NewExec(backend.ExecConfig{
		SensorCommand:   cfg.SensorCommand,
		HostCommand:     cfg.HostCommand,
		PrivilegePrefix: cfg.PrivilegePrefix,
	}, nil), nil
}

func newBuilder() (*dashboard.Builder, error) {
	var overrides []attribution.Rule
	if cfg.LabelsFile != "" {
		rules, err := attribution.LoadLabels(cfg.LabelsFile)
		if err != nil {
			return nil, err
		}
		overrides = rules
		logger.Debug().Int("rules", len(rules)).Str("file", cfg.LabelsFile).Msg("Loaded process labels")
	}

	detector := attribution.NewDetector(cfg.WakeupThreshold, nil)

	return dashboard.NewBuilder(cfg.TopN, detector, attribution.NewLabeler(overrides)), nil
}

// newSinks opens the optional recorders. Closers are returned even on
// error so that whatever was opened gets closed.
func newSinks(ctx context.Context) ([]dashboard.Sink, []func() error, error) {
	var (
		sinks   []dashboard.Sink
		closers []func() error
	)

	if cfg.Record {
		recCfg := metrics.DefaultConfig(cfg.RecordDB)
		recCfg.Enabled = true
		rec, err := metrics.NewRecorder(recCfg, logger.Default())
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, metrics.Sink(ctx, rec, logger.Default()))
		closers = append(closers, rec.Close)
	}

	if cfg.RedisAddr != "" {
		pub, err := cache.NewPublisher(ctx, cfg.RedisAddr, cfg.RedisKey, cfg.HistorySize)
		if err != nil {
			return nil, closers, err
		}
		logger.Info().Str("addr", cfg.RedisAddr).Str("key", pub.LatestKey()).Msg("Publishing states to Redis")
		sinks = append(sinks, cache.Sink(ctx, pub, logger.Default()))
		closers = append(closers, pub.Close)
	}

	return sinks, closers, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.New().Wrap(errors.ErrEncode, err)
	}
	return nil
}

// handleSignals cancels on SIGINT/SIGTERM. SIGHUP re-reads the battery
// profile, e.g. after a battery calibration.
func handleSignals(cancel context.CancelFunc, b backend.Backend) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			if e, ok := b.(*backend.Exec); ok {
				e.RefreshBattery()
				logger.Info().Msg("Battery profile will be re-read")
			}
			continue
		}
		logger.Info().Msg("Received termination signal.")
		cancel()
		return
	}
}
