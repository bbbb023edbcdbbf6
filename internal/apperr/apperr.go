package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ibrahiminano/pipflow-sub001/internal/abtest"
	"github.com/ibrahiminano/pipflow-sub001/internal/engine"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// Code classifies an error for callers outside the engine.
type Code string

const (
	CodeDataUnavailable Code = "DATA_UNAVAILABLE"
	CodeStrategyInvalid Code = "STRATEGY_INVALID"
	CodeCancelled       Code = "CANCELLED"
	CodeTimeout         Code = "TIMEOUT"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// AppError carries a code and a displayable message over the cause.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func New(code Code, message string, cause error) *AppError {
	e := &AppError{Code: code, Message: message, Cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NotFound reports a missing resource of kind with id.
func NotFound(kind, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code to a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeStrategyInvalid:
		return http.StatusBadRequest
	case CodeDataUnavailable:
		return http.StatusUnprocessableEntity
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCancelled, CodeTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// From classifies err by the sentinels it wraps. An *AppError anywhere in
// the chain is returned as is.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	switch {
	case errors.Is(err, engine.ErrDataUnavailable):
		return New(CodeDataUnavailable, "no market data for the requested window", err)
	case errors.Is(err, model.ErrInvalidStrategy):
		return New(CodeStrategyInvalid, "strategy definition is invalid", err)
	case errors.Is(err, context.DeadlineExceeded):
		return New(CodeTimeout, "operation timed out", err)
	case errors.Is(err, engine.ErrCancelled), errors.Is(err, context.Canceled):
		return New(CodeCancelled, "operation was cancelled", err)
	case errors.Is(err, engine.ErrInvalidRequest):
		return New(CodeInvalidInput, "request is invalid", err)
	case errors.Is(err, abtest.ErrCompleted), errors.Is(err, abtest.ErrNotRunning):
		return New(CodeConflict, "a/b test is not accepting trades", err)
	}
	return New(CodeInternal, "internal error", err)
}

// Describe renders err for display.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Message
}
