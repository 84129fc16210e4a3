// Package mailbox renders correlated units as RFC 5322 messages and
// stores them in a maildir.
package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	readability "github.com/go-shiori/go-readability"

	"github.com/dhcgn/ttrss-to-maildir/model"
)

// Renderer turns a unit into a message. Keys and Message-Ids depend only
// on feed and article ids, so rendering the same unit twice yields the
// same identity.
type Renderer struct {
	host string
	now  func() time.Time
}

func NewRenderer(apiURL string) (*Renderer, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	return &Renderer{host: host, now: time.Now}, nil
}

// Key is the storage name of a unit, unique per feed and article.
func Key(feed model.Feed, u model.Unit) string {
	return "ttrss-" + strconv.FormatUint(uint64(feed.ID), 10) + "-" + strconv.FormatUint(uint64(u.ID()), 10)
}

// Address is the envelope sender used for every rendered message.
func (r *Renderer) Address() string {
	return "ttrss@" + r.host
}

func (r *Renderer) MessageID(u model.Unit) string {
	return fmt.Sprintf("ttrss-%d@%s", u.ID(), r.host)
}

func (r *Renderer) Render(feed model.Feed, u model.Unit) (model.Message, error) {
	date := r.now()
	if feed.LastUpdated > 0 {
		date = time.Unix(int64(feed.LastUpdated), 0)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetSubject(subject(u.Headline))
	h.SetAddressList("From", []*mail.Address{{Name: sender(feed, u.Headline), Address: r.Address()}})
	h.SetMessageID(r.MessageID(u))
	h.SetText("X-TTRSS-Feed", feed.Title)
	h.Set("X-TTRSS-Feed-Id", strconv.FormatUint(uint64(feed.ID), 10))
	h.Set("X-TTRSS-Article-Id", strconv.FormatUint(uint64(u.ID()), 10))
	h.Set("List-Id", fmt.Sprintf("<feed-%d.%s>", feed.ID, r.host))
	if u.Headline.Link != "" {
		h.Set("Content-Base", u.Headline.Link)
	}
	if u.Headline.CommentsLink != "" {
		h.Set("X-TTRSS-Comments", u.Headline.CommentsLink)
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}

	if text := plainText(u.Article.Content, u.Headline.Link); text != "" {
		if err := writePart(w, "text/plain", text); err != nil {
			return model.Message{}, err
		}
	}
	if err := writePart(w, "text/html", u.Article.Content); err != nil {
		return model.Message{}, err
	}
	if err := w.Close(); err != nil {
		return model.Message{}, fmt.Errorf("close message: %w", err)
	}

	return model.Message{
		Key:        Key(feed, u),
		ID:         r.MessageID(u),
		ReceivedAt: date,
		Seen:       !u.Headline.Unread,
		Flagged:    u.Headline.Marked,
		Raw:        buf.Bytes(),
	}, nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close %s part: %w", contentType, err)
	}
	return nil
}

// plainText extracts readable text from an article body. It returns ""
// when nothing usable comes out, in which case only the HTML part is sent.
func plainText(html, link string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	var pageURL *url.URL
	if link != "" {
		pageURL, _ = url.Parse(link)
	}
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

func subject(h model.Headline) string {
	if t := strings.TrimSpace(h.Title); t != "" {
		return t
	}
	return "(no title)"
}

func sender(feed model.Feed, h model.Headline) string {
	if a := strings.TrimSpace(h.Author); a != "" {
		return a
	}
	return feed.Title
}
