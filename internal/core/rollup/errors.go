package rollup

import (
	"errors"
	"fmt"

	"github.com/vd-speed-test/speedroll/internal/core/period"
)

// ErrInvalidHostScope marks a host scope that cannot be used as a single path segment.
var ErrInvalidHostScope = errors.New("invalid host scope")

// InvalidLevelError is re-exported so callers only need this package for the rollup error taxonomy.
type InvalidLevelError = period.InvalidLevelError

// MalformedRecordError marks a single unreadable input. It is counted, never fatal.
type MalformedRecordError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed record: %s", e.Reason)
	}
	return fmt.Sprintf("malformed record %s: %s", e.Path, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

func malformedf(err error, format string, args ...any) *MalformedRecordError {
	return &MalformedRecordError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// TransientStoreError is a store failure other than not-found that survived its retries.
type TransientStoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}
