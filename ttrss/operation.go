package ttrss

// Credentials are sent with login and, for wire compatibility, resent by
// getHeadlines and getArticle.
type Credentials struct {
	User     string
	Password string
}

// Operation is one remote API call. The set is closed: every variant
// lives in this file and builds its own request body.
type Operation interface {
	Name() string
	needsSession() bool
	request(c Credentials, sid string) any
}

type Login struct{}

type GetFeeds struct{}

type GetHeadlines struct {
	FeedID  uint32
	SinceID uint32
}

// GetArticle fetches the bodies for a comma separated id list.
type GetArticle struct {
	IDs string
}

func (Login) Name() string        { return "login" }
func (GetFeeds) Name() string     { return "getFeeds" }
func (GetHeadlines) Name() string { return "getHeadlines" }
func (GetArticle) Name() string   { return "getArticle" }

func (Login) needsSession() bool        { return false }
func (GetFeeds) needsSession() bool     { return true }
func (GetHeadlines) needsSession() bool { return true }
func (GetArticle) needsSession() bool   { return true }

type loginRequest struct {
	Op       string `json:"op"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type getFeedsRequest struct {
	Op  string `json:"op"`
	SID string `json:"sid"`
}

type getHeadlinesRequest struct {
	Op       string `json:"op"`
	User     string `json:"user"`
	Password string `json:"password"`
	SID      string `json:"sid"`
	FeedID   uint32 `json:"feed_id"`
	SinceID  uint32 `json:"since_id"`
}

type getArticleRequest struct {
	Op        string `json:"op"`
	User      string `json:"user"`
	SID       string `json:"sid"`
	ArticleID string `json:"article_id"`
	Password  string `json:"password"`
}

func (o Login) request(c Credentials, _ string) any {
	return loginRequest{Op: o.Name(), User: c.User, Password: c.Password}
}

func (o GetFeeds) request(_ Credentials, sid string) any {
	return getFeedsRequest{Op: o.Name(), SID: sid}
}

func (o GetHeadlines) request(c Credentials, sid string) any {
	return getHeadlinesRequest{
		Op:       o.Name(),
		User:     c.User,
		Password: c.Password,
		SID:      sid,
		FeedID:   o.FeedID,
		SinceID:  o.SinceID,
	}
}

func (o GetArticle) request(c Credentials, sid string) any {
	return getArticleRequest{
		Op:        o.Name(),
		User:      c.User,
		SID:       sid,
		ArticleID: o.IDs,
		Password:  c.Password,
	}
}
