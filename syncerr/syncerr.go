// Package syncerr defines the failure kinds a sync run can end with.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindTransport Kind = iota + 1
	KindConfig
	KindProtocolStatus
	KindContentDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindConfig:
		return "config"
	case KindProtocolStatus:
		return "protocol status"
	case KindContentDecode:
		return "content decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrTransport      = &Error{Kind: KindTransport}
	ErrConfig         = &Error{Kind: KindConfig}
	ErrProtocolStatus = &Error{Kind: KindProtocolStatus}
	ErrContentDecode  = &Error{Kind: KindContentDecode}
)

// Error is the single error type returned by the remote client and the
// config loader. Err holds the underlying cause when there is one.
type Error struct {
	Kind Kind
	// Op is the remote operation (login, getFeeds, ...) or config phase.
	Op string
	// Status and Seq are set for KindProtocolStatus.
	Status uint32
	Seq    uint32
	// Code is the server supplied error string, e.g. NOT_LOGGED_IN.
	Code string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Kind == KindProtocolStatus {
		fmt.Fprintf(&b, " %d", e.Status)
		if e.Code != "" {
			fmt.Fprintf(&b, " (%s)", e.Code)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

func ContentDecode(op string, err error) *Error {
	return &Error{Kind: KindContentDecode, Op: op, Err: err}
}

func ProtocolStatus(op string, seq, status uint32, code string) *Error {
	return &Error{Kind: KindProtocolStatus, Op: op, Seq: seq, Status: status, Code: code}
}

// KindOf reports the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// HasCode reports whether err is a protocol status error carrying code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindProtocolStatus && e.Code == code
}
