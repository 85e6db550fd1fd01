package api

import (
	"errors"
	"sync"

	"claw-companion/backend/internal/document"
	"claw-companion/backend/internal/timeline"
	apperrors "claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/resilience"
)

var registerOnce sync.Once

// RegisterErrorMappers teaches pkg/errors the status codes of domain errors
func RegisterErrorMappers() {
	registerOnce.Do(func() {
		apperrors.RegisterMapper(mapDomainError)
	})
}

func mapDomainError(err error) *apperrors.AppError {
	var conflict *document.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		return apperrors.ConflictWithDetails("VERSION_CONFLICT",
			"The document was changed by another writer; reload and retry",
			map[string]interface{}{
				"expectedVersion": conflict.Expected,
				"actualVersion":   conflict.Actual,
			})
	case errors.Is(err, document.ErrVersionConflict):
		return apperrors.NewConflictError("VERSION_CONFLICT", "The document was changed by another writer; reload and retry")
	case errors.Is(err, document.ErrAlreadyInitialized):
		return apperrors.NewConflictError("ALREADY_INITIALIZED", "A document already exists for this owner")
	case errors.Is(err, document.ErrNotFound):
		return apperrors.NewNotFoundError("DOCUMENT_NOT_FOUND", "No document exists for this owner")
	case errors.Is(err, document.ErrEntityNotFound):
		return apperrors.NewNotFoundError("ENTITY_NOT_FOUND", err.Error())
	case errors.Is(err, document.ErrInvalidChange):
		return apperrors.NewBadRequestError("INVALID_CHANGE", err.Error())
	case errors.Is(err, timeline.ErrNotFound):
		return apperrors.NewNotFoundError("MESSAGE_NOT_FOUND", "Message not found")
	case errors.Is(err, resilience.ErrOpen):
		return apperrors.NewServiceUnavailableError("REMOTE_UNAVAILABLE", "The remote message log is unavailable")
	}
	return nil
}

func bindError(err error) *apperrors.AppError {
	return apperrors.NewBadRequestError("INVALID_REQUEST", err.Error())
}
