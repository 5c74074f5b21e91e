package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IngestErrorUnauthorized   = "WEBHOOK_UNAUTHORIZED"
	IngestErrorBadPayload     = "WEBHOOK_BAD_PAYLOAD"
	IngestErrorRetryable      = "WEBHOOK_RETRYABLE_FAILURE"
	IngestErrorNonRetryable   = "WEBHOOK_NON_RETRYABLE_FAILURE"
	IngestErrorInfrastructure = "WEBHOOK_INFRA_UNAVAILABLE"
	IngestErrorConfiguration  = "WEBHOOK_CONFIG_INVALID"
	IngestErrorInternal       = "WEBHOOK_INTERNAL_ERROR"
)

// NonRetryable marks a business-handler failure as permanent: the worker
// skips remaining retries and dead-letters immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "webhook handler rejected payload permanently").
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(IngestErrorNonRetryable)
}

// IsNonRetryable reports whether err was classified via NonRetryable (or
// carries the non-retryable text code from another layer).
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(richErr.TextCode) == IngestErrorNonRetryable
	}
	return false
}

func ingestErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIngestErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "unauthorized"):
		return newIngestError(err.Error(), goerrors.CategoryAuth, IngestErrorUnauthorized)
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"):
		return newIngestError(err.Error(), goerrors.CategoryExternal, IngestErrorInfrastructure)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"),
		strings.Contains(msg, "malformed"):
		return newIngestError(err.Error(), goerrors.CategoryBadInput, IngestErrorBadPayload)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIngestErrorEnvelope(mapped)
}

func newIngestError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIngestErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = ingestHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIngestTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIngestTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return IngestErrorBadPayload
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return IngestErrorUnauthorized
	case goerrors.CategoryExternal:
		return IngestErrorInfrastructure
	case goerrors.CategoryOperation:
		return IngestErrorRetryable
	default:
		return IngestErrorInternal
	}
}

func ingestHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// MapIngestError normalizes any error into the module's envelope; exposed so
// hosting layers can translate worker/ingress failures uniformly.
func MapIngestError(err error) *goerrors.Error {
	return ingestErrorMapper(err)
}
