// Package ttrsstest provides an in-process fake of the TT-RSS JSON API.
package ttrsstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/dhcgn/ttrss-to-maildir/model"
)

// Server answers login, getFeeds, getHeadlines and getArticle from the
// data in its exported fields. Set fields before issuing requests.
type Server struct {
	*httptest.Server

	User      string
	Password  string
	SessionID string

	Feeds     []model.Feed
	Headlines map[uint32][]model.Headline
	// Articles is keyed by article id; getArticle returns the requested
	// ids that exist, in request order unless ArticleOrder is set.
	Articles map[uint32]model.Article
	// ArticleOrder, when set, reorders getArticle results for a request.
	ArticleOrder func(ids []uint32) []uint32
	// Fail forces a status for an op, e.g. Fail["getHeadlines"] = 1.
	Fail map[string]uint32
	// ExpireAfter makes the session stale after this many accepted
	// session calls; the next login issues a fresh id.
	ExpireAfter int

	mu       sync.Mutex
	requests []map[string]any
	calls    int
	logins   int
	live     string
}

func NewServer() *Server {
	s := &Server{
		User:      "alice",
		Password:  "x",
		SessionID: "abc123",
		Headlines: make(map[uint32][]model.Headline),
		Articles:  make(map[uint32]model.Article),
		Fail:      make(map[string]uint32),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Requests returns a copy of every decoded request body received so far.
func (s *Server) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.requests))
	copy(out, s.requests)
	return out
}

// Ops returns the op names of all requests in arrival order.
func (s *Server) Ops() []string {
	reqs := s.Requests()
	ops := make([]string, 0, len(reqs))
	for _, r := range reqs {
		op, _ := r["op"].(string)
		ops = append(ops, op)
	}
	return ops
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	seq := len(s.requests) - 1
	s.mu.Unlock()

	op, _ := req["op"].(string)
	if status, ok := s.Fail[op]; ok {
		write(w, seq, status, map[string]string{"error": "FORCED"})
		return
	}

	if op == "login" {
		s.login(w, seq, req)
		return
	}

	if !s.validSession(req) {
		write(w, seq, 1, map[string]string{"error": "NOT_LOGGED_IN"})
		return
	}

	switch op {
	case "getFeeds":
		feeds := s.Feeds
		if feeds == nil {
			feeds = []model.Feed{}
		}
		write(w, seq, 0, feeds)
	case "getHeadlines":
		id := uint32(number(req["feed_id"]))
		hls := s.Headlines[id]
		if hls == nil {
			hls = []model.Headline{}
		}
		write(w, seq, 0, hls)
	case "getArticle":
		raw, _ := req["article_id"].(string)
		write(w, seq, 0, s.articles(raw))
	default:
		write(w, seq, 1, map[string]string{"error": "UNKNOWN_METHOD"})
	}
}

func (s *Server) login(w http.ResponseWriter, seq int, req map[string]any) {
	if req["user"] != s.User || req["password"] != s.Password {
		write(w, seq, 1, map[string]string{"error": "LOGIN_ERROR"})
		return
	}

	s.mu.Lock()
	s.logins++
	s.calls = 0
	s.live = s.SessionID
	if s.logins > 1 {
		s.live = s.SessionID + "-" + strconv.Itoa(s.logins)
	}
	sid := s.live
	s.mu.Unlock()

	write(w, seq, 0, map[string]string{"session_id": sid})
}

func (s *Server) validSession(req map[string]any) bool {
	sid, _ := req["sid"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sid == "" || sid != s.live {
		return false
	}
	if s.ExpireAfter > 0 && s.calls >= s.ExpireAfter {
		s.live = ""
		return false
	}
	s.calls++
	return true
}

func (s *Server) articles(raw string) []model.Article {
	var ids []uint32
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	if s.ArticleOrder != nil {
		ids = s.ArticleOrder(ids)
	}

	out := []model.Article{}
	for _, id := range ids {
		if a, ok := s.Articles[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func write(w http.ResponseWriter, seq int, status uint32, content any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"seq":     seq,
		"status":  status,
		"content": content,
	})
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
