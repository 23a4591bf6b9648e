package item

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for reporting.
type Kind string

const (
	KindNone      Kind = ""
	KindNetwork   Kind = "network"
	KindParse     Kind = "parse"
	KindDownload  Kind = "download"
	KindRender    Kind = "render"
	KindCancelled Kind = "cancelled"
	KindTimeout   Kind = "timeout"
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	URL  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, op, url string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, URL: url, Err: fmt.Errorf(format, args...)}
}

// Wrap wraps err with kind. A nil err stays nil and an err that already
// carries a cancellation or timeout kind keeps it.
func Wrap(kind Kind, op, url string, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) && (ie.Kind == KindCancelled || ie.Kind == KindTimeout) {
		return err
	}
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

// Cancelled returns the error recorded for work the run never finished.
func Cancelled(op, url string, cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{Kind: KindCancelled, Op: op, URL: url, Err: cause}
}

// KindOf reports the classification of err. Context errors that were never
// wrapped are classified as cancellation or timeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindNetwork
}
