package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/state"
	"github.com/dhcgn/ttrss-to-maildir/stats"
)

type Options struct {
	DryRun bool
	Events stats.Emitter
}

// Maildir delivers messages into a maildir (tmp/, new/, cur/). File names
// are the message key plus an info suffix, so a unit already present in
// new/ or cur/ is never delivered twice.
type Maildir struct {
	root     string
	renderer *Renderer
	tracker  state.Tracker
	opts     Options
	events   stats.Emitter
	logger   *slog.Logger
	seq      atomic.Uint64
}

func OpenMaildir(root string, renderer *Renderer, opts Options, logger *slog.Logger) (*Maildir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("maildir path is empty")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer must not be nil")
	}

	for _, sub := range []string{"tmp", "new", "cur"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create maildir %s: %w", sub, err)
		}
	}

	events := opts.Events
	if events == nil {
		events = stats.Discard
	}
	m := &Maildir{
		root:     root,
		renderer: renderer,
		tracker:  state.NewMemoryTracker(),
		opts:     opts,
		events:   events,
		logger:   logger,
	}
	if err := m.scan(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("maildir opened", "path", root, "existing", m.tracker.Snapshot().Processed)
	}
	return m, nil
}

func (m *Maildir) scan() error {
	for _, sub := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(m.root, sub))
		if err != nil {
			return fmt.Errorf("read maildir %s: %w", sub, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			key, _, _ := strings.Cut(e.Name(), ":")
			_ = m.tracker.MarkProcessed(key)
		}
	}
	return nil
}

func (m *Maildir) Write(ctx context.Context, feed model.Feed, units []model.Unit) error {
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}

		if m.tracker.AlreadyProcessed(Key(feed, u)) {
			m.events.EmitEvent(stats.Event{Stage: stats.StageMaildir, Type: stats.EventTypeDuplicate, FeedID: feed.ID, UnitID: u.ID()})
			continue
		}

		msg, err := m.renderer.Render(feed, u)
		if err != nil {
			m.emitError(u, err)
			return fmt.Errorf("render unit %d: %w", u.ID(), err)
		}

		if m.opts.DryRun {
			m.events.EmitEvent(stats.Event{Stage: stats.StageMaildir, Type: stats.EventTypeDryRunWrite, FeedID: feed.ID, UnitID: u.ID()})
			if m.logger != nil {
				m.logger.Debug("dry-run delivery", "key", msg.Key, "messageID", msg.ID)
			}
			continue
		}

		path, err := m.deliver(msg)
		if err != nil {
			err = fmt.Errorf("deliver unit %d: %w", u.ID(), err)
			m.emitError(u, err)
			return err
		}
		_ = m.tracker.MarkProcessed(msg.Key)

		m.events.EmitEvent(stats.Event{Stage: stats.StageMaildir, Type: stats.EventTypeWritten, FeedID: feed.ID, UnitID: u.ID()})
		if m.logger != nil {
			m.logger.Debug("delivered message", "path", path, "messageID", msg.ID)
		}
	}
	return nil
}

// deliver writes msg to tmp/, syncs it and renames it into place.
func (m *Maildir) deliver(msg model.Message) (string, error) {
	tmpName := fmt.Sprintf("%d.%d_%d.%s", time.Now().Unix(), os.Getpid(), m.seq.Add(1), msg.Key)
	tmpPath := filepath.Join(m.root, "tmp", tmpName)

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create tmp file: %w", err)
	}
	if _, err := file.Write(LocalNewlines(msg.Raw)); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write tmp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("sync tmp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close tmp file: %w", err)
	}

	if !msg.ReceivedAt.IsZero() {
		_ = os.Chtimes(tmpPath, msg.ReceivedAt, msg.ReceivedAt)
	}

	finalPath := filepath.Join(m.root, FileName(msg))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("move into place: %w", err)
	}
	return finalPath, nil
}

// FileName returns the path of msg relative to the maildir root. Unread,
// unflagged messages go to new/ without an info suffix; everything else
// goes to cur/ with flags in ASCII order.
func FileName(msg model.Message) string {
	var flags strings.Builder
	if msg.Flagged {
		flags.WriteByte('F')
	}
	if msg.Seen {
		flags.WriteByte('S')
	}
	if flags.Len() == 0 {
		return filepath.Join("new", msg.Key)
	}
	return filepath.Join("cur", msg.Key+":2,"+flags.String())
}

// LocalNewlines converts the CRLF line endings of a rendered message to
// the LF used by messages stored on local disk.
func LocalNewlines(raw []byte) []byte {
	return bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
}

// Len reports how many messages the maildir is known to hold.
func (m *Maildir) Len() int {
	return m.tracker.Snapshot().Processed
}

func (m *Maildir) emitError(u model.Unit, err error) {
	m.events.EmitEvent(stats.Event{Stage: stats.StageMaildir, Type: stats.EventTypeError, UnitID: u.ID(), Err: err})
}
