package redact

import (
	"errors"

	"github.com/raaihank/pii-redactor/internal/recognizer"
	"github.com/raaihank/pii-redactor/internal/remote"
)

var (
	// ErrTransientIO marks a file operation worth retrying (locked or busy
	// spreadsheet, permission race on a temp file).
	ErrTransientIO = errors.New("transient I/O failure")

	// ErrRemoteUnavailable is returned by the remote tier when it had to fall
	// back to its regex extractor.
	ErrRemoteUnavailable = remote.ErrRemoteUnavailable

	// ErrRecognizerFailure is returned by the statistical tier when its
	// contribution was discarded.
	ErrRecognizerFailure = recognizer.ErrRecognizerFailure

	// ErrPanic marks a panic recovered at the top of Redact.
	ErrPanic = errors.New("redaction panic")
)

// Kind names an error for metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, ErrRecognizerFailure):
		return "recognizer_failure"
	case errors.Is(err, ErrTransientIO):
		return "transient_io"
	case errors.Is(err, ErrPanic):
		return "panic"
	default:
		return "other"
	}
}
