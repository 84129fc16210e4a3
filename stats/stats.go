package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageTTRSS   Stage = "ttrss"
	StageMaildir Stage = "maildir"
	StageMbox    Stage = "mbox"
	StageIMAP    Stage = "imap"
)

type EventType string

const (
	EventTypeFeedsListed EventType = "feeds_listed"
	EventTypeFeed        EventType = "feed"
	EventTypeCorrelated  EventType = "correlated"
	EventTypeGap         EventType = "gap"
	EventTypeFiltered    EventType = "filtered"
	EventTypeRelogin     EventType = "relogin"
	EventTypeWritten     EventType = "written"
	EventTypeDryRunWrite EventType = "dry_run_written"
	EventTypeDuplicate   EventType = "duplicate"
	EventTypeError       EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	FeedID uint32
	UnitID uint32
	Err    error
	Detail string
	// Count is set for EventTypeFeedsListed.
	Count int
}

// Emitter accepts events. Implementations must not block forever.
type Emitter interface {
	EmitEvent(evt Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) EmitEvent(Event) {}

type Summary struct {
	Feeds         int
	Correlated    int
	Gaps          int
	Filtered      int
	Relogins      int
	Written       int
	DryRunWritten int
	Duplicates    int
	Errors        int
	LastError     error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"feeds", s.Feeds,
		"correlated", s.Correlated,
		"gaps", s.Gaps,
		"filtered", s.Filtered,
		"relogins", s.Relogins,
		"written", s.Written,
		"dryRunWritten", s.DryRunWritten,
		"duplicates", s.Duplicates,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFeed:
		c.summary.Feeds++
	case EventTypeCorrelated:
		c.summary.Correlated++
	case EventTypeGap:
		c.summary.Gaps++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeRelogin:
		c.summary.Relogins++
	case EventTypeWritten:
		c.summary.Written++
	case EventTypeDryRunWrite:
		c.summary.DryRunWritten++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// EmitEvent applies evt synchronously, so a Collector can be handed
// directly to code that wants an Emitter.
func (c *Collector) EmitEvent(evt Event) {
	c.Apply(evt)
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

// PrettyPrintTop prints the n largest counts, ties broken by key.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
