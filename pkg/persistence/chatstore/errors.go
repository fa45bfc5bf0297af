package chatstore

import (
	"context"
	"database/sql/driver"
	"io"
	"net"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrMissingConnectionInfo is returned when no backing-service endpoint can be resolved.
	ErrMissingConnectionInfo = errors.New("chatstore: missing connection info")
	// ErrStoreClosed is returned by every operation invoked after Close.
	ErrStoreClosed = errors.New("chatstore: store closed")
	// ErrCorruptedLog is returned by List when a stored record cannot be decoded.
	ErrCorruptedLog = errors.New("chatstore: corrupted log")
	// ErrBackingServiceUnavailable wraps network and timeout failures of the backing service.
	ErrBackingServiceUnavailable = errors.New("chatstore: backing service unavailable")
	// ErrMalformedRecord is returned by DecodeMessage when neither decode path accepts the record.
	ErrMalformedRecord = errors.New("chatstore: malformed record")
	// ErrInvalidConfig is returned for unusable store configuration (negative retention, empty prefix...).
	ErrInvalidConfig = errors.New("chatstore: invalid config")
	// ErrInlineMessages is returned when an imported thread state carries message content.
	ErrInlineMessages = errors.New("chatstore: thread state carries inline messages")
	// ErrUnsupportedEndpoint is returned for endpoints whose scheme has no registered backend.
	ErrUnsupportedEndpoint = errors.New("chatstore: unsupported endpoint")
	// ErrTrimPending is returned by Append when the messages were appended but
	// the retention trim failed. The append must not be retried; the next
	// successful append trims again.
	ErrTrimPending = errors.New("chatstore: appended, retention trim pending")
)

// IsRetryable reports whether err is a runtime condition a caller may retry
// (after reselecting a thread or backing off), as opposed to a programming error.
// An append that reported ErrTrimPending was applied and is never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTrimPending) {
		return false
	}
	return errors.Is(err, ErrBackingServiceUnavailable) || errors.Is(err, ErrCorruptedLog)
}

// kindError attaches one of the sentinel kinds above to an underlying cause,
// keeping both reachable through errors.Is.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	return e.msg + ": " + e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Cause() error { return e.cause }

func withKind(kind error, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return errors.Wrap(cause, msg)
	}
	return &kindError{kind: kind, msg: msg, cause: cause}
}

// backendError wraps a backend failure with op. Only transient failures are
// marked ErrBackingServiceUnavailable; server replies such as WRONGTYPE and
// SQL errors pass through wrapped but untagged. Context errors stay matchable
// with errors.Is(err, context.DeadlineExceeded).
func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return withKind(ErrBackingServiceUnavailable, op, err)
	}
	return errors.Wrap(err, op)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, redis.ErrClosed), errors.Is(err, redis.ErrPoolTimeout), errors.Is(err, redis.ErrPoolExhausted):
		return true
	case errors.Is(err, driver.ErrBadConn):
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
