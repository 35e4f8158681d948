package search

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
)

// Side names a backend in errors and failure annotations.
type Side string

const (
	SideVector Side = "vector"
	SideText   Side = "text"
)

// Failure annotates a degraded result with the backend that failed.
type Failure struct {
	Side Side
	Err  error
}

// InitError reports which backends failed to initialize.
type InitError struct {
	VectorErr error
	TextErr   error
}

func (e *InitError) Error() string {
	return "initialize backends: " + sides(e.VectorErr, e.TextErr)
}

func (e *InitError) Unwrap() []error {
	return append([]error{domain.ErrNotReady}, nonNil(e.VectorErr, e.TextErr)...)
}

// StoreError reports a store or delete that failed on one or both backends.
// The stores are not transactional: the side that succeeded keeps its write.
type StoreError struct {
	Op        string
	VectorErr error
	TextErr   error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + sides(e.VectorErr, e.TextErr)
}

func (e *StoreError) Unwrap() []error {
	errs := nonNil(e.VectorErr, e.TextErr)
	if len(errs) == 1 {
		return append(errs, domain.ErrPartialWrite)
	}
	return append(errs, domain.ErrBackendUnavailable)
}

// Partial reports whether exactly one side failed.
func (e *StoreError) Partial() bool {
	return (e.VectorErr == nil) != (e.TextErr == nil)
}

// HybridError reports a hybrid search where both legs failed.
type HybridError struct {
	VectorErr error
	TextErr   error
}

func (e *HybridError) Error() string {
	return "hybrid search: " + sides(e.VectorErr, e.TextErr)
}

func (e *HybridError) Unwrap() []error {
	return append([]error{domain.ErrBackendUnavailable}, nonNil(e.VectorErr, e.TextErr)...)
}

func sides(vectorErr, textErr error) string {
	var parts []string
	if vectorErr != nil {
		parts = append(parts, fmt.Sprintf("vector: %v", vectorErr))
	}
	if textErr != nil {
		parts = append(parts, fmt.Sprintf("text: %v", textErr))
	}
	return strings.Join(parts, "; ")
}

func nonNil(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func invalidf(format string, args ...any) error {
	return domain.InvalidInputf(format, args...)
}

// timeoutErr wraps a caller cancellation so both ErrTimeout and the context error match.
func timeoutErr(op string, ctxErr error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, ctxErr)
}
