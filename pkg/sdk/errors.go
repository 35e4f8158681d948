package hybridsearch

import "github.com/kailas-cloud/hybridsearch/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput           = domain.ErrInvalidInput
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrEmptyContent           = domain.ErrEmptyContent
	ErrNotReady               = domain.ErrNotReady
	ErrBackendUnavailable     = domain.ErrBackendUnavailable
	ErrPartialWrite           = domain.ErrPartialWrite
	ErrTimeout                = domain.ErrTimeout
	ErrUnknownBackend         = domain.ErrUnknownBackend
	ErrBackendConfig          = domain.ErrBackendConfig
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
)
