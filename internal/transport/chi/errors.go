package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest         = "bad_request"
	codeUnauthorized       = "unauthorized"
	codeValidationFailed   = "validation_failed"
	codeVectorDimMismatch  = "vector_dim_mismatch"
	codeNotReady           = "not_ready"
	codeTimeout            = "timeout"
	codePartialWrite       = "partial_write"
	codeBackendUnavailable = "backend_unavailable"
	codeEmbeddingProvider  = "embedding_provider_error"
	codeBackendConfig      = "backend_config"
	codeInternal           = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// errorHandlers is checked in order; a timeout wins over whatever the
// interrupted backend reported.
var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, codeTimeout, false),
	sentinelHandler(domain.ErrNotReady, http.StatusServiceUnavailable, codeNotReady, false),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch, true),
	sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeValidationFailed, true),
	sentinelHandler(domain.ErrEmptyContent, http.StatusBadRequest, codeValidationFailed, true),
	sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider, false),
	sentinelHandler(domain.ErrPartialWrite, http.StatusBadGateway, codePartialWrite, true),
	sentinelHandler(domain.ErrBackendUnavailable, http.StatusServiceUnavailable, codeBackendUnavailable, false),
	sentinelHandler(domain.ErrUnknownBackend, http.StatusBadRequest, codeBackendConfig, true),
	sentinelHandler(domain.ErrBackendConfig, http.StatusBadRequest, codeBackendConfig, true),
}

// sentinelHandler matches a single sentinel error. detailed handlers expose
// err's message; the rest answer with the sentinel text only.
func sentinelHandler(sentinel error, status int, code string, detailed bool) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := sentinel.Error()
		if detailed {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.requestLogger(r)
	for _, h := range errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
