package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pipeline error taxonomy. Per-document and per-call failures are absorbed
// at the smallest scope; only corpus- or index-level failures fail a job.
var (
	// ErrSourceUnavailable marks a per-document fetch failure (non-fatal).
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrExtractionFailure marks unreadable document content (non-fatal,
	// document excluded).
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrEmptyCorpus means zero usable documents; fatal to the job.
	ErrEmptyCorpus = errors.New("empty corpus")

	// ErrModelFormat marks model output outside the accepted schema.
	ErrModelFormat = errors.New("model format error")

	// ErrIndexCorruption means vectors and chunk metadata desynchronized;
	// fatal, the job needs re-research.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrTimeout marks a stage that exceeded its deadline; fatal to the job.
	ErrTimeout = errors.New("stage timeout")

	// ErrNotReady is returned when results are requested before completion.
	ErrNotReady = errors.New("job not ready")

	// ErrJobNotFound is returned for unknown job identifiers.
	ErrJobNotFound = errors.New("job not found")

	// ErrStageConflict is returned when advance is called on a job that is
	// not in the expected state (duplicate or out-of-order stage execution).
	ErrStageConflict = errors.New("stage conflict")
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithNotReady sends a 409 for results requested before completion
func RespondWithNotReady(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusConflict, "not_ready", message, details)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}
