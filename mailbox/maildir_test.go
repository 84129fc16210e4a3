package mailbox

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/dhcgn/ttrss-to-maildir/model"
	"github.com/dhcgn/ttrss-to-maildir/stats"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		msg  model.Message
		want string
	}{
		{"unread", model.Message{Key: "ttrss-1-10"}, filepath.Join("new", "ttrss-1-10")},
		{"read", model.Message{Key: "ttrss-1-10", Seen: true}, filepath.Join("cur", "ttrss-1-10:2,S")},
		{"unread flagged", model.Message{Key: "ttrss-1-10", Flagged: true}, filepath.Join("cur", "ttrss-1-10:2,F")},
		{"read flagged", model.Message{Key: "ttrss-1-10", Seen: true, Flagged: true}, filepath.Join("cur", "ttrss-1-10:2,FS")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(tt.msg); got != tt.want {
				t.Errorf("FileName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaildir_Write(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Mail")
	collector := stats.NewCollector()

	md, err := OpenMaildir(root, testRenderer(t), Options{Events: collector}, nil)
	if err != nil {
		t.Fatalf("OpenMaildir() error = %v", err)
	}

	feed := model.Feed{ID: 1, Title: "Example"}
	units := []model.Unit{testUnit(10, true, false), testUnit(11, false, false), testUnit(12, true, true)}
	if err := md.Write(context.Background(), feed, units); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if got := listDir(t, filepath.Join(root, "new")); len(got) != 1 || got[0] != "ttrss-1-10" {
		t.Errorf("new/ = %v", got)
	}
	if got := listDir(t, filepath.Join(root, "cur")); len(got) != 2 || got[0] != "ttrss-1-11:2,S" || got[1] != "ttrss-1-12:2,F" {
		t.Errorf("cur/ = %v", got)
	}
	if got := listDir(t, filepath.Join(root, "tmp")); len(got) != 0 {
		t.Errorf("tmp/ should be empty, got %v", got)
	}
	if collector.Snapshot().Written != 3 {
		t.Errorf("written = %d, want 3", collector.Snapshot().Written)
	}
}

func TestMaildir_Idempotent(t *testing.T) {
	root := t.TempDir()
	feed := model.Feed{ID: 1, Title: "Example"}
	units := []model.Unit{testUnit(10, true, false), testUnit(11, true, false)}

	first, err := OpenMaildir(root, testRenderer(t), Options{}, nil)
	if err != nil {
		t.Fatalf("OpenMaildir() error = %v", err)
	}
	if err := first.Write(context.Background(), feed, units); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// A mail client moving the message to cur/ with flags must not cause redelivery.
	if err := os.Rename(filepath.Join(root, "new", "ttrss-1-10"), filepath.Join(root, "cur", "ttrss-1-10:2,S")); err != nil {
		t.Fatal(err)
	}

	collector := stats.NewCollector()
	second, err := OpenMaildir(root, testRenderer(t), Options{Events: collector}, nil)
	if err != nil {
		t.Fatalf("OpenMaildir() error = %v", err)
	}
	if second.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", second.Len())
	}
	if err := second.Write(context.Background(), feed, units); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	total := len(listDir(t, filepath.Join(root, "new"))) + len(listDir(t, filepath.Join(root, "cur")))
	if total != 2 {
		t.Errorf("got %d messages after second write, want 2", total)
	}
	if got := collector.Snapshot(); got.Duplicates != 2 || got.Written != 0 {
		t.Errorf("summary = %+v", got)
	}
}

func TestMaildir_DryRun(t *testing.T) {
	root := t.TempDir()
	collector := stats.NewCollector()

	md, err := OpenMaildir(root, testRenderer(t), Options{DryRun: true, Events: collector}, nil)
	if err != nil {
		t.Fatalf("OpenMaildir() error = %v", err)
	}
	if err := md.Write(context.Background(), model.Feed{ID: 1}, []model.Unit{testUnit(10, true, false)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if got := listDir(t, filepath.Join(root, "new")); len(got) != 0 {
		t.Errorf("dry run wrote %v", got)
	}
	if collector.Snapshot().DryRunWritten != 1 {
		t.Errorf("dryRunWritten = %d, want 1", collector.Snapshot().DryRunWritten)
	}
}

func TestMaildir_DryRunRepeats(t *testing.T) {
	collector := stats.NewCollector()
	md, err := OpenMaildir(t.TempDir(), testRenderer(t), Options{DryRun: true, Events: collector}, nil)
	if err != nil {
		t.Fatalf("OpenMaildir() error = %v", err)
	}

	units := []model.Unit{testUnit(10, true, false)}
	for pass := 0; pass < 2; pass++ {
		if err := md.Write(context.Background(), model.Feed{ID: 1}, units); err != nil {
			t.Fatalf("pass %d: Write() error = %v", pass, err)
		}
	}

	got := collector.Snapshot()
	if got.DryRunWritten != 2 || got.Duplicates != 0 {
		t.Errorf("summary = %+v, want 2 dry-run writes and no duplicates", got)
	}
	if md.Len() != 0 {
		t.Errorf("Len() = %d, dry run must not record deliveries", md.Len())
	}
}

func TestMaildir_LFLineEndings(t *testing.T) {
	root := t.TempDir()
	md, err := OpenMaildir(root, testRenderer(t), Options{}, nil)
	if err != nil {
		t.Fatalf("OpenMaildir() error = %v", err)
	}
	if err := md.Write(context.Background(), model.Feed{ID: 1}, []model.Unit{testUnit(10, true, false)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, "new", "ttrss-1-10"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if bytes.Contains(raw, []byte("\r\n")) {
		t.Error("maildir file contains CRLF line endings")
	}
	if !bytes.Contains(raw, []byte("\n")) {
		t.Error("maildir file has no line breaks")
	}
}

func TestLocalNewlines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb\r\n", "a\nb\n"},
		{"already lf", "a\nb\n", "a\nb\n"},
		{"bare cr kept", "a\rb", "a\rb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(LocalNewlines([]byte(tt.in))); got != tt.want {
				t.Errorf("LocalNewlines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenMaildir_EmptyPath(t *testing.T) {
	if _, err := OpenMaildir("  ", testRenderer(t), Options{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
