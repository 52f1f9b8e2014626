package extent

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedInput         = errors.New("truncated input")
	ErrBadMagic               = errors.New("bad magic")
	ErrImplausibleMetadata    = errors.New("implausible metadata size")
	ErrUnsupportedCompression = errors.New("unsupported compression algorithm")
	ErrCorruptStream          = errors.New("corrupt compressed stream")
	ErrAllocationFailure      = errors.New("allocation failure")
	ErrWriteFailure           = errors.New("write failure")
)

// ErrDictionaryRequired is reported for zlib streams that need a preset
// dictionary. It matches ErrCorruptStream under errors.Is.
var ErrDictionaryRequired error = &kindError{msg: "preset dictionary required", kind: ErrCorruptStream}

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// FormatError locates a failure in the container.
type FormatError struct {
	Offset int64  // byte offset in the source of the record being processed
	Op     string // what was being done, e.g. "read marker"
	Detail string // expected vs observed, may be empty
	Err    error
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s at offset 0x%X: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s at offset 0x%X: %v (%s)", e.Op, e.Offset, e.Err, e.Detail)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatError(offset int64, op string, err error, detail string, args ...any) error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &FormatError{Offset: offset, Op: op, Detail: detail, Err: err}
}
