// Package mbox appends rendered units to a single mbox file.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/ttrss-to-maildir/mailbox"
	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/state"
	"github.com/dhcgn/ttrss-to-maildir/stats"
)

type Options struct {
	Path   string
	DryRun bool
	Events stats.Emitter
}

// Writer is a sink that appends messages to an mbox file. Messages whose
// Message-Id is already present in the file are skipped.
type Writer struct {
	path     string
	renderer *mailbox.Renderer
	tracker  state.Tracker
	opts     Options
	events   stats.Emitter
	logger   *slog.Logger
}

func Open(opts Options, renderer *mailbox.Renderer, logger *slog.Logger) (*Writer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer must not be nil")
	}

	events := opts.Events
	if events == nil {
		events = stats.Discard
	}
	w := &Writer{
		path:     path,
		renderer: renderer,
		tracker:  state.NewMemoryTracker(),
		opts:     opts,
		events:   events,
		logger:   logger,
	}

	count, err := w.scan()
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("mbox opened", "path", path, "existing", count)
	}
	return w, nil
}

// scan records the Message-Id of every message already in the file. A
// missing file is an empty mailbox.
func (w *Writer) scan() (int, error) {
	file, err := os.Open(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("mbox message %d: %w", idx, err)
		}

		msg, err := mail.ReadMessage(msgReader)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("skipping unreadable mbox message", "path", w.path, "index", idx, "err", err)
			}
			continue
		}
		if id := messageID(msg.Header); id != "" {
			_ = w.tracker.MarkProcessed(id)
			count++
		}
	}
}

func messageID(h mail.Header) string {
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
}

func (w *Writer) Write(ctx context.Context, feed model.Feed, units []model.Unit) error {
	var (
		pending []model.Message
		ids     []uint32
	)
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}

		if w.tracker.AlreadyProcessed(w.renderer.MessageID(u)) {
			w.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDuplicate, FeedID: feed.ID, UnitID: u.ID()})
			continue
		}

		msg, err := w.renderer.Render(feed, u)
		if err != nil {
			w.emitError(feed, u, err)
			return fmt.Errorf("render unit %d: %w", u.ID(), err)
		}

		if w.opts.DryRun {
			w.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDryRunWrite, FeedID: feed.ID, UnitID: u.ID()})
			if w.logger != nil {
				w.logger.Debug("dry-run append", "path", w.path, "messageID", msg.ID)
			}
			continue
		}
		pending = append(pending, msg)
		ids = append(ids, u.ID())
	}

	if len(pending) == 0 {
		return nil
	}
	if err := w.append(pending); err != nil {
		w.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeError, FeedID: feed.ID, Err: err})
		return err
	}

	for i, msg := range pending {
		_ = w.tracker.MarkProcessed(msg.ID)
		w.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeWritten, FeedID: feed.ID, UnitID: ids[i]})
	}
	if w.logger != nil {
		w.logger.Debug("appended messages", "path", w.path, "feed", feed.ID, "count", len(pending))
	}
	return nil
}

// append writes msgs in one open/sync/close cycle.
func (w *Writer) append(msgs []model.Message) error {
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create mbox dir: %w", err)
		}
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open mbox for append: %w", err)
	}
	defer file.Close()

	mw := mboxlib.NewWriter(file)
	for _, msg := range msgs {
		dst, err := mw.CreateMessage(w.renderer.Address(), msg.ReceivedAt)
		if err != nil {
			return fmt.Errorf("mbox message %s: %w", msg.ID, err)
		}
		if _, err := io.Copy(dst, bytes.NewReader(mailbox.LocalNewlines(msg.Raw))); err != nil {
			return fmt.Errorf("mbox write %s: %w", msg.ID, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("mbox close: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("mbox sync: %w", err)
	}
	return nil
}

// Len reports how many messages the file is known to hold.
func (w *Writer) Len() int {
	return w.tracker.Snapshot().Processed
}

func (w *Writer) emitError(feed model.Feed, u model.Unit, err error) {
	w.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeError, FeedID: feed.ID, UnitID: u.ID(), Err: err})
}
