package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/ttrss-to-maildir/stats"
)

// Bar shows a progress bar over the feeds of each pass.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar that is only drawn at log level "info".
func New(logLevel string) *Bar {
	return &Bar{enabled: logLevel == "info"}
}

// Update advances the bar for evt. A feed list starts a new bar.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeFeedsListed:
		b.stopLocked()
		if evt.Count == 0 {
			return
		}
		pb, err := pterm.DefaultProgressbar.
			WithTotal(evt.Count).
			WithTitle("Syncing feeds").
			Start()
		if err != nil {
			return
		}
		b.pb = pb
	case stats.EventTypeFeed:
		if b.pb == nil {
			return
		}
		b.pb.Increment()
		if evt.Detail != "" {
			title := evt.Detail
			if len(title) > 40 {
				title = title[:37] + "..."
			}
			b.pb.UpdateTitle("Feed: " + title)
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the current bar, if any.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Bar) stopLocked() {
	if b.pb == nil {
		return
	}
	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// Subscriber feeds events into the bar until the stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter draws the bar and prints a summary table at the end.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	if pr.logger == nil {
		return nil
	}

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", time.Since(pr.started).Round(time.Millisecond))
	pterm.Info.Printf("Feeds: %d\n", summary.Feeds)
	pterm.Info.Printf("Correlated: %d\n", summary.Correlated)
	pterm.Info.Printf("Gaps: %d\n", summary.Gaps)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Written: %d\n", summary.Written)
	pterm.Info.Printf("Dry-run written: %d\n", summary.DryRunWritten)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Re-logins: %d\n", summary.Relogins)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	return nil
}
