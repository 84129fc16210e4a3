// Package pipeline walks every subscribed feed, fetches headlines and
// article bodies, pairs them by id and hands each feed to a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/stats"
	"github.com/dhcgn/ttrss-to-maildir/syncerr"
	"github.com/dhcgn/ttrss-to-maildir/ttrss"
)

// SinceID is sent with every getHeadlines call. No cursor is kept
// between runs, so each run asks for the full available history.
const SinceID uint32 = 0

// ErrLogin marks a failed login or re-login. It aborts the pass.
var ErrLogin = errors.New("login failed")

// Remote is the subset of *ttrss.Client the pipeline needs.
type Remote interface {
	Login(ctx context.Context) (ttrss.Session, error)
	GetFeeds(ctx context.Context, s ttrss.Session) ([]model.Feed, error)
	GetHeadlines(ctx context.Context, s ttrss.Session, feedID, sinceID uint32) ([]model.Headline, error)
	GetArticle(ctx context.Context, s ttrss.Session, ids string) ([]model.Article, error)
}

// Sink stores the correlated units of one feed. Writing the same unit
// twice must not produce a second message.
type Sink interface {
	Write(ctx context.Context, feed model.Feed, units []model.Unit) error
}

// UnitFilter drops units before they reach the sink.
type UnitFilter interface {
	AllowsUnit(u model.Unit) bool
}

type Options struct {
	// ReloginAttempts bounds how often a pass logs in again after the
	// server reports NOT_LOGGED_IN. Zero disables re-login.
	ReloginAttempts int
	Filter          UnitFilter
	Events          stats.Emitter
}

type Pipeline struct {
	remote Remote
	sink   Sink
	opts   Options
	events stats.Emitter
	logger *slog.Logger
}

func New(remote Remote, sink Sink, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	events := opts.Events
	if events == nil {
		events = stats.Discard
	}
	return &Pipeline{
		remote: remote,
		sink:   sink,
		opts:   opts,
		events: events,
		logger: logger,
	}, nil
}

// Report lists the per-feed results of one pass in feed order.
type Report struct {
	Feeds []model.FeedResult
}

// Degraded reports whether any feed failed or had correlation gaps.
func (r Report) Degraded() bool {
	for _, f := range r.Feeds {
		if f.Degraded() {
			return true
		}
	}
	return false
}

func (r Report) Units() int {
	n := 0
	for _, f := range r.Feeds {
		n += len(f.Units)
	}
	return n
}

// pass holds the session for one run. The session value is replaced,
// never mutated, when the pipeline logs in again.
type pass struct {
	session  ttrss.Session
	relogins int
}

// Run performs one full pass. A login or getFeeds failure aborts it and
// is returned; per-feed failures are recorded in the report instead.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	var report Report

	session, err := p.remote.Login(ctx)
	if err != nil {
		p.emitError(0, err)
		return report, fmt.Errorf("%w: %w", ErrLogin, err)
	}
	p.logger.Debug("logged in")
	st := &pass{session: session}

	var feeds []model.Feed
	err = p.withSession(ctx, st, func(s ttrss.Session) error {
		var err error
		feeds, err = p.remote.GetFeeds(ctx, s)
		return err
	})
	if err != nil {
		p.emitError(0, err)
		return report, fmt.Errorf("get feeds: %w", err)
	}
	p.logger.Info("fetched feeds", "count", len(feeds))
	p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeFeedsListed, Count: len(feeds)})

	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := p.syncFeed(ctx, st, feed)
		report.Feeds = append(report.Feeds, res)

		if errors.Is(res.Err, ErrLogin) {
			return report, res.Err
		}
	}

	return report, nil
}

func (p *Pipeline) syncFeed(ctx context.Context, st *pass, feed model.Feed) model.FeedResult {
	res := model.FeedResult{Feed: feed}
	log := p.logger.With("feedID", feed.ID, "feed", feed.Title)
	p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeFeed, FeedID: feed.ID, Detail: feed.Title})

	var headlines []model.Headline
	err := p.withSession(ctx, st, func(s ttrss.Session) error {
		var err error
		headlines, err = p.remote.GetHeadlines(ctx, s, feed.ID, SinceID)
		return err
	})
	if err != nil {
		return p.feedFailed(log, res, fmt.Errorf("get headlines: %w", err))
	}
	if len(headlines) == 0 {
		log.Debug("no headlines")
		return res
	}

	var articles []model.Article
	ids := JoinIDs(headlines)
	err = p.withSession(ctx, st, func(s ttrss.Session) error {
		var err error
		articles, err = p.remote.GetArticle(ctx, s, ids)
		return err
	})
	if err != nil {
		return p.feedFailed(log, res, fmt.Errorf("get articles: %w", err))
	}

	res.Units, res.Gaps, res.Orphans = Correlate(headlines, articles)
	for _, u := range res.Units {
		p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeCorrelated, FeedID: feed.ID, UnitID: u.ID()})
	}
	for _, id := range res.Gaps {
		p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeGap, FeedID: feed.ID, UnitID: id})
	}
	if len(res.Gaps) > 0 {
		log.Warn("correlation gap", "missing", len(res.Gaps), "ids", res.Gaps)
	}
	if len(res.Orphans) > 0 {
		log.Debug("articles without headline", "ids", res.Orphans)
	}

	units := p.filter(feed, res.Units)
	if len(units) == 0 {
		return res
	}
	if err := p.sink.Write(ctx, feed, units); err != nil {
		return p.feedFailed(log, res, fmt.Errorf("write: %w", err))
	}

	log.Info("feed synced", "units", len(res.Units), "gaps", len(res.Gaps))
	return res
}

func (p *Pipeline) filter(feed model.Feed, units []model.Unit) []model.Unit {
	if p.opts.Filter == nil {
		return units
	}
	kept := make([]model.Unit, 0, len(units))
	for _, u := range units {
		if !p.opts.Filter.AllowsUnit(u) {
			p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeFiltered, FeedID: feed.ID, UnitID: u.ID()})
			continue
		}
		kept = append(kept, u)
	}
	return kept
}

// withSession runs fn and, if the server rejected the session, logs in
// again and retries fn once, within the pass's re-login budget.
func (p *Pipeline) withSession(ctx context.Context, st *pass, fn func(ttrss.Session) error) error {
	err := fn(st.session)
	if err == nil || !syncerr.HasCode(err, ttrss.CodeNotLoggedIn) {
		return err
	}
	if st.relogins >= p.opts.ReloginAttempts {
		return err
	}

	st.relogins++
	p.logger.Warn("session rejected, logging in again", "attempt", st.relogins, "max", p.opts.ReloginAttempts)
	p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeRelogin})

	session, lerr := p.remote.Login(ctx)
	if lerr != nil {
		return fmt.Errorf("%w: %w", ErrLogin, lerr)
	}
	st.session = session
	return fn(st.session)
}

func (p *Pipeline) feedFailed(log *slog.Logger, res model.FeedResult, err error) model.FeedResult {
	res.Err = err
	log.Error("feed failed", "err", err)
	p.emitError(res.Feed.ID, err)
	return res
}

func (p *Pipeline) emitError(feedID uint32, err error) {
	p.events.EmitEvent(stats.Event{Stage: stats.StageTTRSS, Type: stats.EventTypeError, FeedID: feedID, Err: err})
}
