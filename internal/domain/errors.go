package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a request rejected before any backend call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrVectorDimMismatch signals a vector whose length differs from the configured dimension.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyContent signals a text-side document without content.
	ErrEmptyContent = errors.New("empty document content")
	// ErrNotReady signals an orchestrator whose backends never finished initialization.
	ErrNotReady = errors.New("search service not initialized")
	// ErrBackendUnavailable signals that every backend involved in a call failed.
	ErrBackendUnavailable = errors.New("search backend unavailable")
	// ErrPartialWrite signals a store or delete that succeeded on one backend only.
	ErrPartialWrite = errors.New("partial write")
	// ErrTimeout signals a caller deadline or cancellation during a backend call.
	ErrTimeout = errors.New("search timed out")
	// ErrUnknownBackend signals an unsupported backend kind.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrBackendConfig signals a backend kind missing required configuration.
	ErrBackendConfig = errors.New("backend misconfigured")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// InvalidInputf builds an ErrInvalidInput with a formatted reason.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// DimensionError reports the offending document of a rejected batch.
type DimensionError struct {
	ID       string
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: document %q has %d values, expected %d",
		ErrVectorDimMismatch.Error(), e.ID, e.Got, e.Expected)
}

func (e *DimensionError) Unwrap() error { return ErrVectorDimMismatch }
