package container

import (
	"errors"
	"fmt"
)

// Sentinel causes for container rejection. Callers match with
// errors.Is; the wrapped message carries the offending detail.
var (
	ErrBadMagic        = errors.New("bad magic")
	ErrBadVersion      = errors.New("unsupported format version")
	ErrTruncated       = errors.New("truncated container")
	ErrBadSection      = errors.New("section out of bounds")
	ErrBadConstant     = errors.New("malformed constant pool")
	ErrBadCode         = errors.New("malformed code section")
	ErrBadTaskTable    = errors.New("malformed task table")
	ErrBadDebugSection = errors.New("malformed debug section")
	ErrHashMismatch    = errors.New("content hash mismatch")
)

// formatError wraps a sentinel cause with positional context.
type formatError struct {
	cause  error
	detail string
}

func (e *formatError) Error() string {
	return fmt.Sprintf("%s: %s", e.cause.Error(), e.detail)
}

func (e *formatError) Unwrap() error {
	return e.cause
}

func formatErrf(cause error, format string, args ...any) error {
	return &formatError{cause: cause, detail: fmt.Sprintf(format, args...)}
}
