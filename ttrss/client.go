// Package ttrss is a client for the Tiny Tiny RSS JSON API.
package ttrss

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/syncerr"
)

// CodeNotLoggedIn is the error string the server returns for a stale or
// unknown session id.
const CodeNotLoggedIn = "NOT_LOGGED_IN"

const redacted = "[redacted]"

var errEmptySessionID = errors.New("login returned an empty session_id")

type Options struct {
	URL         string
	Credentials Credentials
	// Timeout bounds a whole request. Zero means no timeout.
	Timeout time.Duration
	// AllowUnknownFields accepts content with fields this client does not model.
	AllowUnknownFields bool
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// Session is the authentication state. The zero value is unauthenticated;
// an authenticated Session is only produced by Client.Login.
type Session struct {
	token string
}

func (s Session) Authenticated() bool {
	return s.token != ""
}

func (s Session) Token() string {
	return s.token
}

// Client issues one blocking POST per operation. It holds no session
// state; callers pass the Session explicitly.
type Client struct {
	url          string
	creds        Credentials
	http         *http.Client
	allowUnknown bool
	logger       *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("api url is empty")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		url:          opts.URL,
		creds:        opts.Credentials,
		http:         httpClient,
		allowUnknown: opts.AllowUnknownFields,
		logger:       logger,
	}, nil
}

type loginContent struct {
	SessionID string `json:"session_id"`
}

func (c *Client) Login(ctx context.Context) (Session, error) {
	content, err := call[loginContent](ctx, c, Session{}, Login{})
	if err != nil {
		return Session{}, err
	}
	if content.SessionID == "" {
		return Session{}, syncerr.ContentDecode(Login{}.Name(), errEmptySessionID)
	}
	return Session{token: content.SessionID}, nil
}

func (c *Client) GetFeeds(ctx context.Context, s Session) ([]model.Feed, error) {
	return call[[]model.Feed](ctx, c, s, GetFeeds{})
}

func (c *Client) GetHeadlines(ctx context.Context, s Session, feedID, sinceID uint32) ([]model.Headline, error) {
	return call[[]model.Headline](ctx, c, s, GetHeadlines{FeedID: feedID, SinceID: sinceID})
}

func (c *Client) GetArticle(ctx context.Context, s Session, ids string) ([]model.Article, error) {
	return call[[]model.Article](ctx, c, s, GetArticle{IDs: ids})
}

func call[T any](ctx context.Context, c *Client, s Session, op Operation) (T, error) {
	var zero T

	if op.needsSession() && !s.Authenticated() {
		panic(fmt.Sprintf("ttrss: %s requires an authenticated session", op.Name()))
	}

	body, err := c.roundTrip(ctx, op, s)
	if err != nil {
		return zero, err
	}

	env, err := ParseEnvelope(op.Name(), body)
	if err != nil {
		return zero, err
	}
	if c.logger != nil {
		c.logger.Debug("ttrss response", "op", op.Name(), "seq", env.Seq, "status", env.Status, "bytes", len(body))
	}

	return DecodeContent[T](op.Name(), env, c.allowUnknown)
}

func (c *Client) roundTrip(ctx context.Context, op Operation, s Session) ([]byte, error) {
	payload, err := json.Marshal(op.request(c.creds, s.token))
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, syncerr.Transport(op.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.debug(ctx) {
		c.logger.Debug("ttrss request", "op", op.Name(), "url", c.url, "authenticated", s.Authenticated(), "payload", c.redactedPayload(op, s))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerr.Transport(op.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.Transport(op.Name(), fmt.Errorf("read body: %w", err))
	}
	if c.debug(ctx) {
		c.logger.Debug("ttrss response body", "op", op.Name(), "httpStatus", resp.StatusCode, "body", string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, syncerr.Transport(op.Name(), fmt.Errorf("unexpected HTTP status %s", resp.Status))
	}

	return body, nil
}

func (c *Client) debug(ctx context.Context) bool {
	return c.logger != nil && c.logger.Enabled(ctx, slog.LevelDebug)
}

// redactedPayload is the request body with the password blanked.
func (c *Client) redactedPayload(op Operation, s Session) string {
	creds := c.creds
	if creds.Password != "" {
		creds.Password = redacted
	}
	payload, err := json.Marshal(op.request(creds, s.token))
	if err != nil {
		return ""
	}
	return string(payload)
}
