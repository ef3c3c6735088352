// Package errors provides the structured error type shared by every devloop
// component. Errors carry a Kind that decides how the orchestrator reacts:
// io, bind and startup compile failures abort the run, watch-mode compile
// failures are logged, broadcast delivery failures are swallowed.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind represents different categories of errors.
type Kind string

const (
	KindIO        Kind = "io"
	KindCompile   Kind = "compile"
	KindBind      Kind = "bind"
	KindBroadcast Kind = "broadcast"
	KindTask      Kind = "task"
	KindConfig    Kind = "config"
	KindInternal  Kind = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Diagnostic holds compiler output or stack text when available.
	Diagnostic string
	Cause      error
	Context    map[string]interface{}
	// Component names the task, asset group or connection the error belongs to.
	Component string
	FilePath  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, string(e.Kind)+":"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath adds file location information.
func (e *Error) WithPath(filePath string) *Error {
	e.FilePath = filePath

	return e
}

// WithDiagnostic attaches compiler output or trace text.
func (e *Error) WithDiagnostic(diagnostic string) *Error {
	e.Diagnostic = diagnostic

	return e
}

// Common error codes.
const (
	ErrCodeRemoveFailed    = "ERR_REMOVE_FAILED"
	ErrCodeWriteFailed     = "ERR_WRITE_FAILED"
	ErrCodeReadFailed      = "ERR_READ_FAILED"
	ErrCodeCompileFailed   = "ERR_COMPILE_FAILED"
	ErrCodeNoSources       = "ERR_NO_SOURCES"
	ErrCodeCompilerMissing = "ERR_COMPILER_MISSING"
	ErrCodeBindFailed      = "ERR_BIND_FAILED"
	ErrCodeDeliveryFailed  = "ERR_DELIVERY_FAILED"
	ErrCodeTaskFailed      = "ERR_TASK_FAILED"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
)

// NewIOError creates an I/O error for a directory or file operation.
func NewIOError(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewCompileError creates a compile error for an asset group.
func NewCompileError(group, message, diagnostic string, cause error) *Error {
	return &Error{
		Kind:       KindCompile,
		Code:       ErrCodeCompileFailed,
		Message:    message,
		Diagnostic: diagnostic,
		Cause:      cause,
		Component:  group,
	}
}

// NewBindError creates a listener bind error.
func NewBindError(addr string, cause error) *Error {
	return &Error{
		Kind:    KindBind,
		Code:    ErrCodeBindFailed,
		Message: "cannot listen on " + addr,
		Cause:   cause,
	}
}

// NewBroadcastError creates a per-connection delivery error.
func NewBroadcastError(conn string, cause error) *Error {
	return &Error{
		Kind:      KindBroadcast,
		Code:      ErrCodeDeliveryFailed,
		Message:   "delivery failed",
		Cause:     cause,
		Component: conn,
	}
}

// NewTaskError wraps the failure of a named task.
func NewTaskError(task string, cause error) *Error {
	return &Error{
		Kind:       KindTask,
		Code:       ErrCodeTaskFailed,
		Message:    "task failed",
		Cause:      cause,
		Component:  task,
		Diagnostic: Diagnostic(cause),
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *Error {
	return &Error{
		Kind:    KindConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
		Cause:   cause,
	}
}

// IsKind reports whether any structured error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}

	return false
}

// Diagnostic returns the first diagnostic text found in the chain.
func Diagnostic(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Diagnostic != "" {
			return e.Diagnostic
		}
		err = errors.Unwrap(err)
	}

	return ""
}

// IsFatal reports whether the error must abort startup.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return !IsKind(err, KindBroadcast)
}

// Handler provides centralized error logging.
type Handler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewHandler creates a new error handler.
func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle logs an error at the severity its kind calls for.
func (h *Handler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	fields := []interface{}{"kind", e.Kind, "code", e.Code}
	if e.Component != "" {
		fields = append(fields, "component", e.Component)
	}
	if d := Diagnostic(err); d != "" {
		fields = append(fields, "diagnostic", d)
	}

	switch {
	case IsKind(err, KindBroadcast):
		h.logger.Debug(ctx, "Dropped reload connection", append(fields, "error", err.Error())...)
	case e.Kind == KindCompile:
		h.logger.Error(ctx, err, "Compile failed", fields...)
	default:
		h.logger.Error(ctx, err, "Error occurred", fields...)
	}
}
