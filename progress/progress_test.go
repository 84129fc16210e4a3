package progress

import (
	"context"
	"testing"

	"github.com/pterm/pterm"

	"github.com/dhcgn/ttrss-to-maildir/stats"
)

func TestBar_Disabled(t *testing.T) {
	b := New("debug")
	b.Update(stats.Event{Type: stats.EventTypeFeedsListed, Count: 3})
	if b.pb != nil {
		t.Fatal("disabled bar must not start")
	}
}

func TestBar_Subscriber(t *testing.T) {
	pterm.DisableOutput()
	defer pterm.EnableOutput()

	b := New("info")
	events := make(chan stats.Event, 4)
	events <- stats.Event{Type: stats.EventTypeFeedsListed, Count: 2}
	events <- stats.Event{Type: stats.EventTypeFeed, Detail: "first"}
	events <- stats.Event{Type: stats.EventTypeFeed, Detail: "a feed title that is far too long to show in full"}
	close(events)

	if err := b.Subscriber(context.Background(), events); err != nil {
		t.Fatalf("Subscriber() error = %v", err)
	}
	if b.pb != nil {
		t.Error("bar should be stopped once the stream closes")
	}
}

func TestBar_IgnoresFeedsBeforeList(t *testing.T) {
	pterm.DisableOutput()
	defer pterm.EnableOutput()

	b := New("info")
	b.Update(stats.Event{Type: stats.EventTypeFeed, Detail: "orphan"})
	if b.pb != nil {
		t.Fatal("feed event without a feed list must not start a bar")
	}
}
