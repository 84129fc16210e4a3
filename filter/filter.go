package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/ttrss-to-maildir/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeTitle   []string
	IncludeContent []string
	ExcludeTitle   []string
	ExcludeContent []string
}

// Filter holds compiled regex patterns matched against headline titles
// and article contents.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeTitle   []*regexp.Regexp
	includeContent []*regexp.Regexp
	excludeTitle   []*regexp.Regexp
	excludeContent []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeTitle, err := compilePatterns(opts.IncludeTitle)
	if err != nil {
		return nil, fmt.Errorf("compile include-title pattern: %w", err)
	}
	includeContent, err := compilePatterns(opts.IncludeContent)
	if err != nil {
		return nil, fmt.Errorf("compile include-content pattern: %w", err)
	}
	excludeTitle, err := compilePatterns(opts.ExcludeTitle)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-title pattern: %w", err)
	}
	excludeContent, err := compilePatterns(opts.ExcludeContent)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-content pattern: %w", err)
	}

	includeActive := len(includeTitle) > 0 || len(includeContent) > 0
	excludeActive := len(excludeTitle) > 0 || len(excludeContent) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeTitle:   includeTitle,
		includeContent: includeContent,
		excludeTitle:   excludeTitle,
		excludeContent: excludeContent,
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (f.includeMode || f.excludeMode)
}

// Allows returns true if a title/content pair passes the filter criteria.
func (f *Filter) Allows(title, content string) bool {
	if f == nil {
		return true
	}

	if f.includeMode {
		return matchAny(f.includeTitle, title) || matchAny(f.includeContent, content)
	}

	if f.excludeMode {
		if matchAny(f.excludeTitle, title) || matchAny(f.excludeContent, content) {
			return false
		}
	}

	return true
}

// AllowsUnit applies Allows to a unit's headline title and article content.
func (f *Filter) AllowsUnit(u model.Unit) bool {
	return f.Allows(u.Headline.Title, u.Article.Content)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
