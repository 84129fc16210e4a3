// Package imap uploads rendered units to a folder on an IMAP server.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/ttrss-to-maildir/mailbox"
	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/state"
	"github.com/dhcgn/ttrss-to-maildir/stats"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	DryRun             bool
	Events             stats.Emitter
}

// Uploader is a sink that appends messages to an IMAP folder. The
// connection is opened on the first upload and kept until Close or until a
// command on it fails; the next upload then dials again. Messages already
// in the folder are found by a Message-Id search.
type Uploader struct {
	opts     Options
	renderer *mailbox.Renderer
	tracker  state.Tracker
	events   stats.Emitter
	logger   *slog.Logger

	client    *imapclient.Client
	connCtx   context.Context
	stopClose func() bool
}

func NewUploader(opts Options, renderer *mailbox.Renderer, logger *slog.Logger) (*Uploader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer must not be nil")
	}
	events := opts.Events
	if events == nil {
		events = stats.Discard
	}
	return &Uploader{
		opts:     opts,
		renderer: renderer,
		tracker:  state.NewMemoryTracker(),
		events:   events,
		logger:   logger,
	}, nil
}

func (u *Uploader) Write(ctx context.Context, feed model.Feed, units []model.Unit) error {
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := u.renderer.MessageID(unit)
		if u.tracker.AlreadyProcessed(id) {
			u.events.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeDuplicate, FeedID: feed.ID, UnitID: unit.ID()})
			continue
		}

		msg, err := u.renderer.Render(feed, unit)
		if err != nil {
			u.emitError(feed, unit, err)
			return fmt.Errorf("render unit %d: %w", unit.ID(), err)
		}

		if u.opts.DryRun {
			u.events.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeDryRunWrite, FeedID: feed.ID, UnitID: unit.ID()})
			if u.logger != nil {
				u.logger.Debug("dry-run upload", "messageID", msg.ID, "target", u.targetFolder())
			}
			continue
		}

		reused := u.client != nil
		if !reused {
			if err := u.connect(ctx); err != nil {
				u.emitError(feed, unit, err)
				return err
			}
		}

		exists, err := u.exists(msg.ID)
		if err != nil && reused {
			// The server may have dropped an idle connection.
			if u.logger != nil {
				u.logger.Warn("imap connection lost, reconnecting", "err", err)
			}
			u.drop()
			if err = u.connect(ctx); err == nil {
				exists, err = u.exists(msg.ID)
			}
		}
		if err != nil {
			u.drop()
			err = fmt.Errorf("search message %s: %w", msg.ID, err)
			u.emitError(feed, unit, err)
			return err
		}
		if exists {
			_ = u.tracker.MarkProcessed(msg.ID)
			u.events.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeDuplicate, FeedID: feed.ID, UnitID: unit.ID()})
			continue
		}

		if err := u.appendMessage(msg); err != nil {
			u.drop()
			err = fmt.Errorf("upload message %s: %w", msg.ID, err)
			u.emitError(feed, unit, err)
			return err
		}
		_ = u.tracker.MarkProcessed(msg.ID)

		u.events.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeWritten, FeedID: feed.ID, UnitID: unit.ID()})
		if u.logger != nil {
			u.logger.Debug("uploaded message", "messageID", msg.ID, "target", u.targetFolder())
		}
	}
	return nil
}

// Close logs out and drops the connection, if one was opened.
func (u *Uploader) Close() {
	if u.client == nil {
		return
	}
	u.stopClose()
	if u.connCtx.Err() == nil {
		if err := u.client.Logout().Wait(); err != nil && u.logger != nil {
			u.logger.Warn("imap logout failed", "err", err)
		}
	}
	u.drop()
}

// drop closes the connection without logging out.
func (u *Uploader) drop() {
	if u.client == nil {
		return
	}
	u.stopClose()
	if err := u.client.Close(); err != nil && u.logger != nil {
		u.logger.Debug("imap connection closed", "err", err)
	}
	u.client, u.connCtx, u.stopClose = nil, nil, nil
}

func (u *Uploader) connect(ctx context.Context) error {
	client, err := u.dial()
	if err != nil {
		return err
	}
	if _, err := client.Select(u.targetFolder(), nil).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("select mailbox %s: %w", u.targetFolder(), err)
	}
	u.client, u.connCtx = client, ctx
	u.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	return nil
}

func (u *Uploader) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	var (
		client *imapclient.Client
		err    error
	)
	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := u.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	if u.logger != nil {
		u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "target", u.targetFolder(), "tls", u.opts.UseTLS)
	}
	return client, nil
}

func (u *Uploader) exists(messageID string) (bool, error) {
	criteria := &imapv2.SearchCriteria{
		Header: []imapv2.SearchCriteriaHeaderField{{Key: "Message-Id", Value: messageID}},
	}
	data, err := u.client.Search(criteria, nil).Wait()
	if err != nil {
		return false, err
	}
	return len(data.AllSeqNums()) > 0, nil
}

func (u *Uploader) appendMessage(msg model.Message) error {
	size := int64(len(msg.Raw))

	opts := &imapv2.AppendOptions{Flags: appendFlags(msg)}
	if !msg.ReceivedAt.IsZero() {
		opts.Time = msg.ReceivedAt
	}

	cmd := u.client.Append(u.targetFolder(), size, opts)

	remaining := msg.Raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}
	return nil
}

func appendFlags(msg model.Message) []imapv2.Flag {
	var flags []imapv2.Flag
	if msg.Seen {
		flags = append(flags, imapv2.FlagSeen)
	}
	if msg.Flagged {
		flags = append(flags, imapv2.FlagFlagged)
	}
	return flags
}

func (u *Uploader) targetFolder() string {
	if u.opts.TargetFolder == "" {
		return "INBOX"
	}
	return u.opts.TargetFolder
}

func (u *Uploader) ensureMailbox(client *imapclient.Client) error {
	target := u.targetFolder()
	if err := client.Create(target, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if u.logger != nil {
				u.logger.Debug("imap mailbox already exists", "mailbox", target)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if u.logger != nil {
		u.logger.Info("imap mailbox created", "mailbox", target)
	}
	return nil
}

func (u *Uploader) emitError(feed model.Feed, unit model.Unit, err error) {
	u.events.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, FeedID: feed.ID, UnitID: unit.ID(), Err: err})
}
