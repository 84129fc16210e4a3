package model

import "time"

// Message is a rendered RFC 5322 message ready to be stored by a sink.
type Message struct {
	// Key is the stable storage name, derived from the feed and article ids.
	Key string
	// ID is the Message-Id header value without angle brackets.
	ID         string
	ReceivedAt time.Time
	Seen       bool
	Flagged    bool
	Raw        []byte
}
