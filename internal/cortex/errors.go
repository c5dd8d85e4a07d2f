// Package cortex implements the domain operations of the memory store:
// category lifecycle, memory mutation, prune, recency, and filtered query.
// It is the policy layer over the storage ports in internal/store.
package cortex

import (
	"errors"
	"fmt"
	"strings"
)

// Code discriminates domain errors into a finite taxonomy.
type Code string

// Error codes, grouped by kind.
const (
	// Identity & validation.
	CodeInvalidSlug        Code = "INVALID_SLUG"
	CodeInvalidPath        Code = "INVALID_PATH"
	CodeInvalidTimestamp   Code = "INVALID_TIMESTAMP"
	CodeInvalidTags        Code = "INVALID_TAGS"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeDescriptionTooLong Code = "DESCRIPTION_TOO_LONG"

	// Not found.
	CodeMemoryNotFound     Code = "MEMORY_NOT_FOUND"
	CodeCategoryNotFound   Code = "CATEGORY_NOT_FOUND"
	CodeStoreNotFound      Code = "STORE_NOT_FOUND"
	CodeConfigNotFound     Code = "CONFIG_NOT_FOUND"
	CodeLocalStoreMissing  Code = "LOCAL_STORE_MISSING"
	CodeGlobalStoreMissing Code = "GLOBAL_STORE_MISSING"

	// Conflict.
	CodeMemoryAlreadyExists   Code = "MEMORY_ALREADY_EXISTS"
	CodeCategoryAlreadyExists Code = "CATEGORY_ALREADY_EXISTS"
	CodeStoreAlreadyExists    Code = "STORE_ALREADY_EXISTS"

	// Policy.
	CodeCategoryModeForbidsCreate Code = "CATEGORY_MODE_FORBIDS_CREATE"
	CodeCategoryModeForbidsDelete Code = "CATEGORY_MODE_FORBIDS_DELETE"
	CodeCategoryProtected         Code = "CATEGORY_PROTECTED"
	CodeCategoryNotEmpty          Code = "CATEGORY_NOT_EMPTY"

	// Storage and config.
	CodeStorageError      Code = "STORAGE_ERROR"
	CodeConfigParseFailed Code = "CONFIG_PARSE_FAILED"
	CodeConfigInvalid     Code = "CONFIG_INVALID"
)

// Error is the typed domain error every fallible operation returns.
// Code is the machine discriminant; Message names the offending value and,
// where one exists, a remedy. Contextual fields are optional.
type Error struct {
	Code    Code
	Message string
	Path    string
	Field   string
	Store   string
	Cause   error
}

// Error renders the code, message, and context.
func (e *Error) Error() string {
	var builder strings.Builder

	builder.WriteString(string(e.Code))
	builder.WriteString(": ")
	builder.WriteString(e.Message)

	if e.Path != "" {
		builder.WriteString(" (path: ")
		builder.WriteString(e.Path)
		builder.WriteString(")")
	}

	if e.Store != "" {
		builder.WriteString(" (store: ")
		builder.WriteString(e.Store)
		builder.WriteString(")")
	}

	if e.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Cause.Error())
	}

	return builder.String()
}

// Unwrap exposes the low-level cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches against another *Error by code, so sentinel-style comparisons
// like errors.Is(err, &Error{Code: CodeMemoryNotFound}) work.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}

	return false
}

// CodeOf extracts the domain code from err, or "" if err is not a domain error.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}

	return ""
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsValidation reports whether err is a validation error (an INVALID_* code
// or an oversize description) the CLI should render as usage help rather
// than a system failure.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidSlug, CodeInvalidPath, CodeInvalidTimestamp, CodeInvalidTags,
		CodeInvalidInput, CodeDescriptionTooLong:
		return true
	default:
		return false
	}
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) withPath(path string) *Error {
	e.Path = path

	return e
}

func (e *Error) withStore(store string) *Error {
	e.Store = store

	return e
}

func (e *Error) withCause(cause error) *Error {
	e.Cause = cause

	return e
}

// storageError wraps a low-level I/O failure, preserving the cause.
func storageError(action string, cause error) *Error {
	return &Error{
		Code:    CodeStorageError,
		Message: action + " failed",
		Cause:   cause,
	}
}
