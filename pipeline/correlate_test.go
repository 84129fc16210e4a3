package pipeline

import (
	"slices"
	"testing"

	"github.com/dhcgn/ttrss-to-maildir/model"
)

func TestJoinIDs(t *testing.T) {
	tests := []struct {
		name string
		ids  []uint32
		want string
	}{
		{"empty", nil, ""},
		{"single", []uint32{10}, "10"},
		{"keeps headline order", []uint32{12, 10, 11}, "12,10,11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hls []model.Headline
			for _, id := range tt.ids {
				hls = append(hls, model.Headline{ID: id})
			}
			if got := JoinIDs(hls); got != tt.want {
				t.Errorf("JoinIDs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrelate_ByID(t *testing.T) {
	headlines := []model.Headline{{ID: 10, Title: "ten"}, {ID: 11, Title: "eleven"}, {ID: 12, Title: "twelve"}}
	articles := []model.Article{{ID: 12, Content: "C"}, {ID: 10, Content: "A"}}

	units, gaps, orphans := Correlate(headlines, articles)

	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	for _, u := range units {
		if u.Headline.ID != u.Article.ID {
			t.Errorf("misaligned unit: headline %d with article %d", u.Headline.ID, u.Article.ID)
		}
	}
	if units[0].ID() != 10 || units[1].ID() != 12 {
		t.Errorf("unit ids = [%d %d], want [10 12]", units[0].ID(), units[1].ID())
	}
	if units[0].Article.Content != "A" || units[1].Article.Content != "C" {
		t.Errorf("unit contents = [%q %q]", units[0].Article.Content, units[1].Article.Content)
	}
	if !slices.Equal(gaps, []uint32{11}) {
		t.Errorf("gaps = %v, want [11]", gaps)
	}
	if len(orphans) != 0 {
		t.Errorf("orphans = %v, want none", orphans)
	}
}

func TestCorrelate_Orphans(t *testing.T) {
	headlines := []model.Headline{{ID: 1}}
	articles := []model.Article{{ID: 1}, {ID: 99}, {ID: 99}}

	units, gaps, orphans := Correlate(headlines, articles)
	if len(units) != 1 || len(gaps) != 0 {
		t.Fatalf("units=%d gaps=%v", len(units), gaps)
	}
	if !slices.Equal(orphans, []uint32{99}) {
		t.Errorf("orphans = %v, want [99]", orphans)
	}
}

func TestCorrelate_DuplicateHeadline(t *testing.T) {
	headlines := []model.Headline{{ID: 5, Title: "first"}, {ID: 5, Title: "second"}}
	articles := []model.Article{{ID: 5, Content: "x"}}

	units, _, _ := Correlate(headlines, articles)
	if len(units) != 1 || units[0].Headline.Title != "first" {
		t.Fatalf("units = %+v, want the first headline only", units)
	}
}

func TestCorrelate_NoArticles(t *testing.T) {
	units, gaps, _ := Correlate([]model.Headline{{ID: 1}, {ID: 2}}, nil)
	if len(units) != 0 {
		t.Fatalf("got %d units, want 0", len(units))
	}
	if !slices.Equal(gaps, []uint32{1, 2}) {
		t.Errorf("gaps = %v", gaps)
	}
}
