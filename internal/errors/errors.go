// Package errors provides structured error handling for reconradar operations.
// It defines error codes for the failure kinds a discovery pipeline can meet
// (missing tools, timeouts, unparseable output, privilege problems) and the
// error types that carry them through wrapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// External tool errors.
	CodeToolUnavailable ErrorCode = "TOOL_UNAVAILABLE"
	CodeToolTimeout     ErrorCode = "TOOL_TIMEOUT"
	CodeToolFailed      ErrorCode = "TOOL_FAILED"
	CodeParseFailure    ErrorCode = "PARSE_FAILURE"

	// Scanning errors.
	CodeScanFailed    ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"
	CodeNoAdapters    ErrorCode = "NO_ADAPTERS"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// File system errors.
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission  ErrorCode = "FILE_PERMISSION"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"
)

// ToolError describes a failed invocation of an external discovery utility.
type ToolError struct {
	Code     ErrorCode
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Cause    error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Command())
	if e.Code == CodeToolFailed {
		msg += fmt.Sprintf(" exited with status %d", e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Command renders the invocation the way a user would type it.
func (e *ToolError) Command() string {
	if len(e.Args) == 0 {
		return e.Tool
	}
	return e.Tool + " " + strings.Join(e.Args, " ")
}

// NewToolError creates a tool error for the given invocation.
func NewToolError(code ErrorCode, tool string, args []string, cause error) *ToolError {
	return &ToolError{
		Code:  code,
		Tool:  tool,
		Args:  append([]string(nil), args...),
		Cause: cause,
	}
}

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *ToolError:
			return e.Code
		case *ScanError:
			return e.Code
		case *DatabaseError:
			return e.Code
		case *ConfigError:
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return CodeUnknown
}

// IsRetryable reports whether running the same tool again may succeed: it
// timed out or exited non-zero. Missing tools, missing privileges and
// cancellation are not retryable.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeToolTimeout, CodeToolFailed, CodeDatabaseTimeout:
		return true
	default:
		return false
	}
}

// Reason returns a short lowercase label for an error, used in warnings and
// metric labels.
func Reason(err error) string {
	switch GetCode(err) {
	case CodeToolUnavailable:
		return "unavailable"
	case CodeToolTimeout, CodeTimeout:
		return "timeout"
	case CodePermission:
		return "permission denied"
	case CodeToolFailed:
		return "failed"
	case CodeParseFailure:
		return "unparseable output"
	case CodeCanceled:
		return "canceled"
	default:
		return "error"
	}
}

// Common error creation functions

// ErrToolUnavailable creates an error for a discovery utility that is not installed.
func ErrToolUnavailable(tool string, args []string, cause error) *ToolError {
	return NewToolError(CodeToolUnavailable, tool, args, cause)
}

// ErrToolTimeout creates an error for a discovery utility that exceeded its deadline.
func ErrToolTimeout(tool string, args []string) *ToolError {
	return NewToolError(CodeToolTimeout, tool, args, nil)
}

// ErrToolPermission creates an error for a utility that lacked privileges.
func ErrToolPermission(tool string, args []string, stderr string) *ToolError {
	e := NewToolError(CodePermission, tool, args, nil)
	e.Stderr = stderr
	return e
}

// ErrParseFailure creates an error for output that could not be interpreted.
func ErrParseFailure(source string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeParseFailure, "Unparseable tool output", source, err)
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
