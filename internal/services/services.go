package services

import (
	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/shared"
)

// Result is the outcome of a service call as reported to the CLI and HTTP layers.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Ok wraps data in a successful result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail logs err and wraps it in a failed result carrying its error code.
func Fail[T any](logger *log.Logger, op string, err error) Result[T] {
	code := shared.ErrorCode(err)
	logger.Error(op+" failed", "code", code, "error", err)
	return Result[T]{Error: err.Error(), Code: code}
}

// Err returns the failure as an error, or nil for successful results.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return &ResultError{Code: r.Code, Message: r.Error}
}

// ResultError is a failed [Result] seen as an error.
type ResultError struct {
	Code    string
	Message string
}

func (e *ResultError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Message + " (" + e.Code + ")"
}
