package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
)

// Mapper converts a domain error to an AppError, or returns nil when it
// does not recognise err
type Mapper func(err error) *AppError

var (
	mappersMu sync.RWMutex
	mappers   []Mapper
)

// RegisterMapper adds a domain error mapping consulted by FromError
func RegisterMapper(m Mapper) {
	mappersMu.Lock()
	defer mappersMu.Unlock()
	mappers = append(mappers, m)
}

// BadRequestWithDetails creates a 400 Bad Request error with details
func BadRequestWithDetails(code string, message string, details any) *AppError {
	return NewBadRequestError(code, message).WithDetails(details)
}

// NotFoundWithDetails creates a 404 Not Found error with details
func NotFoundWithDetails(code string, message string, details any) *AppError {
	return NewNotFoundError(code, message).WithDetails(details)
}

// ConflictWithDetails creates a 409 Conflict error with details
func ConflictWithDetails(code string, message string, details any) *AppError {
	return NewConflictError(code, message).WithDetails(details)
}

// FromError converts err to an AppError. AppErrors anywhere in the chain are
// returned as is, registered mappers come next, and anything else becomes
// a 500.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	mappersMu.RLock()
	registered := append([]Mapper(nil), mappers...)
	mappersMu.RUnlock()
	for _, m := range registered {
		if mapped := m(err); mapped != nil {
			return mapped.WithCause(err)
		}
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return NewError(http.StatusGatewayTimeout, "TIMEOUT", "The request timed out").WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return NewError(499, "CANCELLED", "The request was cancelled").WithCause(err)
	}

	return NewInternalServerError(
		"INTERNAL_ERROR",
		fmt.Sprintf("An unexpected error occurred: %s", err.Error()),
	).WithCause(err)
}

// GetStatusCode extracts the HTTP status code, 500 for anything unmapped
func GetStatusCode(err error) int {
	return FromError(err).StatusCode
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}
