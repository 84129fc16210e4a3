// Package runner drives sync passes, once or on an interval, and fans
// pipeline events out to the stats subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dhcgn/ttrss-to-maildir/pipeline"
	"github.com/dhcgn/ttrss-to-maildir/stats"
)

// ErrPartialFailure is returned when the last pass finished but at least
// one feed failed or had correlation gaps.
var ErrPartialFailure = errors.New("sync finished with degraded feeds")

// Pass performs one sync pass. *pipeline.Pipeline implements it.
type Pass interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

type Options struct {
	// Interval repeats passes until the context is cancelled. Zero runs a
	// single pass.
	Interval time.Duration
}

type Runner struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   []chan stats.Event
	closed bool

	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
}

func New(opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// EmitEvent delivers evt to every subscriber. It blocks while a
// subscriber's buffer is full and drops the event once the runner stops.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range r.subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats starts fn on its own copy of the event stream. It must
// be called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// Start runs passes until done and then drains the subscribers. With an
// interval it keeps going until ctx is cancelled and returns the outcome
// of the last completed pass.
func (r *Runner) Start(ctx context.Context, p Pass) error {
	since := time.Now()
	err := r.loop(ctx, p)

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	if err == nil {
		err = r.statsErr()
	}

	duration := time.Since(since)
	switch {
	case err == nil:
		r.logger.Info("sync completed", "duration", duration)
	case errors.Is(err, ErrPartialFailure):
		r.logger.Warn("sync completed with degraded feeds", "duration", duration, "err", err)
	default:
		r.logger.Error("sync failed", "duration", duration, "err", err)
	}
	return err
}

func (r *Runner) loop(ctx context.Context, p Pass) error {
	last := r.runPass(ctx, p, 1)
	if r.opts.Interval <= 0 {
		return last
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for n := 2; ; n++ {
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}

		err := r.runPass(ctx, p, n)
		if ctx.Err() != nil {
			// The interrupted pass does not count.
			return last
		}
		last = err
	}
}

func (r *Runner) runPass(ctx context.Context, p Pass, n int) error {
	started := time.Now()
	report, err := p.Run(ctx)
	log := r.logger.With("pass", n, "duration", time.Since(started))

	if err != nil {
		log.Error("pass failed", "feeds", len(report.Feeds), "err", err)
		return err
	}

	degraded := 0
	for _, f := range report.Feeds {
		if f.Degraded() {
			degraded++
		}
	}
	log.Info("pass finished", "feeds", len(report.Feeds), "units", report.Units(), "degraded", degraded)
	if degraded > 0 {
		return fmt.Errorf("%w: %d of %d feeds", ErrPartialFailure, degraded, len(report.Feeds))
	}
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, ch := range r.subs {
			close(ch)
		}
		r.mu.Unlock()
	})
}

func (r *Runner) statsErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}
