package app

import (
	"errors"
	"fmt"
	"net/http"

	"modrequests/api/internal/lock"
	"modrequests/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func notFoundError() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Request not found", nil)
}

func forbiddenError(reason string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", reason, nil)
}

func outOfRangeError(index, count int) *DomainError {
	return domainError(http.StatusBadRequest, "OUT_OF_RANGE", "Comment index out of range", map[string]any{
		"index": index,
		"count": count,
	})
}

func storeUnavailableError(err error) *DomainError {
	return domainError(http.StatusInternalServerError, "STORE_UNAVAILABLE", "Request store unavailable", map[string]any{
		"cause": err.Error(),
	})
}

// storeError turns a store or lock failure into the matching DomainError.
func storeError(err error) error {
	var domainErr *DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, store.ErrNotFound):
		return notFoundError()
	case errors.Is(err, store.ErrValidation):
		return validationError("gameName is required")
	case errors.Is(err, store.ErrOutOfRange):
		return domainError(http.StatusBadRequest, "OUT_OF_RANGE", "Comment index out of range", nil)
	case errors.Is(err, lock.ErrNotAcquired):
		return domainError(http.StatusConflict, "CONFLICT", "Request is being modified, retry shortly", nil)
	default:
		return storeUnavailableError(err)
	}
}
