package model

import (
	"cmp"
	"strings"
)

// Feed is a subscribed source as returned by getFeeds.
type Feed struct {
	ID          uint32 `json:"id"`
	Title       string `json:"title"`
	FeedURL     string `json:"feed_url"`
	CatID       uint32 `json:"cat_id"`
	OrderID     uint32 `json:"order_id"`
	LastUpdated uint32 `json:"last_updated"`
}

// Headline is one feed item without its body, as returned by getHeadlines.
type Headline struct {
	ID           uint32 `json:"id"`
	Unread       bool   `json:"unread"`
	Marked       bool   `json:"marked"`
	Title        string `json:"title"`
	FeedID       uint32 `json:"feed_id"`
	Author       string `json:"author"`
	Link         string `json:"link"`
	CommentsLink string `json:"comments_link"`
}

// Article is the body of a headline, as returned by getArticle.
type Article struct {
	ID      uint32 `json:"id"`
	Content string `json:"content"`
}

// Unit pairs a headline with the article of the same id.
type Unit struct {
	Headline Headline
	Article  Article
}

func (u Unit) ID() uint32 {
	return u.Headline.ID
}

// FeedResult is everything one pass learned about a feed.
type FeedResult struct {
	Feed  Feed
	Units []Unit
	// Gaps lists headline ids for which no article came back.
	Gaps []uint32
	// Orphans lists article ids that matched no headline.
	Orphans []uint32
	Err     error
}

// Degraded reports whether the feed failed or came back incomplete.
func (r FeedResult) Degraded() bool {
	return r.Err != nil || len(r.Gaps) > 0
}

// CompareHeadlines orders by id, then by the remaining fields in
// declaration order. The server defines no order; this exists so results
// can be compared deterministically.
func CompareHeadlines(a, b Headline) int {
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	if c := compareBool(a.Unread, b.Unread); c != 0 {
		return c
	}
	if c := compareBool(a.Marked, b.Marked); c != 0 {
		return c
	}
	if c := strings.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if c := cmp.Compare(a.FeedID, b.FeedID); c != 0 {
		return c
	}
	if c := strings.Compare(a.Author, b.Author); c != 0 {
		return c
	}
	if c := strings.Compare(a.Link, b.Link); c != 0 {
		return c
	}
	return strings.Compare(a.CommentsLink, b.CommentsLink)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
