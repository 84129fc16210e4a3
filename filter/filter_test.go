package filter

import (
	"testing"

	"github.com/dhcgn/ttrss-to-maildir/model"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{IncludeTitle: []string{"(?i)golang"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("Golang 1.24 released", "<p>body</p>") {
		t.Error("Expected item to be allowed (title matches)")
	}
	if f.Allows("Rust news", "<p>body</p>") {
		t.Error("Expected item to be filtered out (title doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeTitle: []string{"sponsored"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("Normal post", "body") {
		t.Error("Expected item to be allowed")
	}
	if f.Allows("This is sponsored", "body") {
		t.Error("Expected item to be filtered out")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{IncludeTitle: []string{"a"}, ExcludeContent: []string{"b"}})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeContent: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{IncludeTitle: []string{"  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("blank patterns should not activate the filter")
	}
	if !f.Allows("Any", "Any body") {
		t.Error("Expected item to be allowed when no filters are active")
	}

	var nilFilter *Filter
	if !nilFilter.AllowsUnit(model.Unit{}) {
		t.Error("nil filter must allow everything")
	}
}

func TestFilter_AllowsUnit_Content(t *testing.T) {
	f, err := New(Options{IncludeContent: []string{"important"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	match := model.Unit{Headline: model.Headline{ID: 1, Title: "x"}, Article: model.Article{ID: 1, Content: "an important note"}}
	noMatch := model.Unit{Headline: model.Headline{ID: 2, Title: "x"}, Article: model.Article{ID: 2, Content: "regular"}}

	if !f.AllowsUnit(match) {
		t.Error("Expected unit to be allowed (content matches)")
	}
	if f.AllowsUnit(noMatch) {
		t.Error("Expected unit to be filtered out (content doesn't match)")
	}
}
