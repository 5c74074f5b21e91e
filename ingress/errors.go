package ingress

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhook-ingest/core"
)

func ingressError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func ingressWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return ingressError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func ingressUnauthorized(source error, metadata map[string]any) error {
	return ingressWrapError(
		source,
		goerrors.CategoryAuth,
		"ingress: signature verification failed",
		http.StatusUnauthorized,
		core.IngestErrorUnauthorized,
		metadata,
	)
}

func ingressUnavailable(source error, message string, metadata map[string]any) error {
	return ingressWrapError(
		source,
		goerrors.CategoryExternal,
		message,
		http.StatusServiceUnavailable,
		core.IngestErrorInfrastructure,
		metadata,
	)
}

func ingressInternal(message string, metadata map[string]any) error {
	return ingressError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.IngestErrorInternal,
		metadata,
	)
}
