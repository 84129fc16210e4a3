package model

import (
	"errors"
	"slices"
	"testing"
)

func TestCompareHeadlines(t *testing.T) {
	tests := []struct {
		name string
		a, b Headline
		want int
	}{
		{"id first", Headline{ID: 1, Title: "z"}, Headline{ID: 2, Title: "a"}, -1},
		{"equal", Headline{ID: 5, Title: "x"}, Headline{ID: 5, Title: "x"}, 0},
		{"unread after read", Headline{ID: 5, Unread: true}, Headline{ID: 5}, 1},
		{"title breaks tie", Headline{ID: 5, Title: "a"}, Headline{ID: 5, Title: "b"}, -1},
		{"comments link last", Headline{ID: 5, CommentsLink: "b"}, Headline{ID: 5, CommentsLink: "a"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareHeadlines(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareHeadlines() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCompareHeadlinesSorts(t *testing.T) {
	hls := []Headline{{ID: 12}, {ID: 10}, {ID: 11, Marked: true}, {ID: 11}}
	slices.SortFunc(hls, CompareHeadlines)

	got := []uint32{hls[0].ID, hls[1].ID, hls[2].ID, hls[3].ID}
	if !slices.Equal(got, []uint32{10, 11, 11, 12}) {
		t.Fatalf("sorted ids = %v", got)
	}
	if hls[1].Marked || !hls[2].Marked {
		t.Fatalf("unmarked headline should sort before marked one")
	}
}

func TestFeedResultDegraded(t *testing.T) {
	if (FeedResult{}).Degraded() {
		t.Error("empty result should not be degraded")
	}
	if !(FeedResult{Gaps: []uint32{11}}).Degraded() {
		t.Error("gap should degrade result")
	}
	if !(FeedResult{Err: errors.New("boom")}).Degraded() {
		t.Error("error should degrade result")
	}
}
