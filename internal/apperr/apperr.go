// Package apperr defines the error taxonomy shared by the settlement, review
// and analysis components, and how each class surfaces over HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConflict               = errors.New("conflict")
	ErrAlreadyRunning         = errors.New("settlement run already in progress")
	ErrChainCallFailed        = errors.New("chain call failed")
	ErrExternalTimeout        = errors.New("external service timeout")
)

func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func InvalidTransition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidStateTransition, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// ChainFailed keeps the underlying RPC error in the chain.
func ChainFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrChainCallFailed, op, err)
}

// HTTPStatus maps an error onto the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidStateTransition):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, ErrChainCallFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrExternalTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
