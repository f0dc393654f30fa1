package sheet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/batch"
	"github.com/raaihank/pii-redactor/internal/redact"
)

// Retry configures attempts at a file operation. Attempt n waits n*Delay
// before it starts.
type Retry struct {
	MaxRetries int
	Delay      time.Duration
}

// IsTransient reports whether err is a lock or permission race worth
// retrying, such as a workbook still open in a spreadsheet program.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, redact.ErrTransientIO),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EBUSY):
		return true
	}
	return strings.Contains(err.Error(), "used by another process")
}

// ReadWithRetry is Read with retries on transient errors.
func ReadWithRetry(ctx context.Context, path string, r Retry, logger *zap.Logger) (*batch.Table, error) {
	var table *batch.Table
	err := r.do(ctx, "read", path, logger, func() error {
		var err error
		table, err = Read(ctx, path)
		return err
	})
	return table, err
}

// WriteWithRetry is Write with retries on transient errors.
func WriteWithRetry(ctx context.Context, path string, table *batch.Table, r Retry, logger *zap.Logger) error {
	return r.do(ctx, "write", path, logger, func() error {
		return Write(ctx, path, table)
	})
}

// linearBackOff waits n*delay before retry n.
type linearBackOff struct {
	delay time.Duration
	n     int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.delay
}

func (b *linearBackOff) Reset() { b.n = 0 }

func (r Retry) backOff(ctx context.Context) backoff.BackOff {
	// WithMaxRetries treats zero as unlimited
	if r.MaxRetries <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{delay: r.Delay}, uint64(r.MaxRetries-1)), ctx)
}

func (r Retry) do(ctx context.Context, op, path string, logger *zap.Logger, fn func() error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn("File operation failed, retrying",
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})

	switch {
	case err == nil:
		return nil
	case !IsTransient(err), errors.Is(err, redact.ErrTransientIO):
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", redact.ErrTransientIO, op, path, err)
}
