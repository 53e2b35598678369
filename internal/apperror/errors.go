// Package apperror provides the error taxonomy shared by the admission workflow.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Code represents a standardized error code surfaced to clients.
type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeConflict             Code = "CONFLICT"
	CodePreconditionFailed   Code = "PRECONDITION_FAILED"
	CodeUnsupportedMediaType Code = "UNSUPPORTED_MEDIA_TYPE"
	CodePayloadTooLarge      Code = "PAYLOAD_TOO_LARGE"
	CodeUploadFailed         Code = "UPLOAD_FAILED"
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeTimeout              Code = "TIMEOUT"
	CodeInvalidFileType      Code = "INVALID_FILE_TYPE"
	CodeInternal             Code = "INTERNAL"
)

// Error is a structured application error.
type Error struct {
	Code          Code      `json:"code"`
	Message       string    `json:"message"`
	Details       string    `json:"details,omitempty"`
	MissingFields []string  `json:"missingFields,omitempty"`
	Retryable     bool      `json:"retryable"`
	Timestamp     time.Time `json:"timestamp"`
	Err           error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so errors.Is(err, apperror.New(CodeNotFound, "")) works.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newError(code Code, message string, retryable bool, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Err:       cause,
	}
}

// New builds an error with the given code.
func New(code Code, message string) *Error {
	return newError(code, message, code == CodeNetworkError || code == CodeTimeout, nil)
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return newError(code, message, code == CodeNetworkError || code == CodeTimeout, err)
}

func NotFound(resource, id string) *Error {
	e := newError(CodeNotFound, fmt.Sprintf("%s not found", resource), false, nil)
	e.Details = id
	return e
}

func Validation(message string) *Error {
	return newError(CodeValidationFailed, message, false, nil)
}

func Conflict(message string) *Error {
	return newError(CodeConflict, message, false, nil)
}

// PreconditionFailed lists the fields that block the requested transition.
func PreconditionFailed(message string, missing []string) *Error {
	e := newError(CodePreconditionFailed, message, false, nil)
	e.MissingFields = append([]string(nil), missing...)
	if len(missing) > 0 {
		e.Details = "missing: " + strings.Join(missing, ", ")
	}
	return e
}

func UnsupportedMediaType(message string) *Error {
	return newError(CodeUnsupportedMediaType, message, false, nil)
}

func PayloadTooLarge(message string) *Error {
	return newError(CodePayloadTooLarge, message, false, nil)
}

func UploadFailed(message string, err error) *Error {
	return newError(CodeUploadFailed, message, true, err)
}

func NetworkError(message string, err error) *Error {
	return newError(CodeNetworkError, message, true, err)
}

func Timeout(message string, err error) *Error {
	return newError(CodeTimeout, message, true, err)
}

func InvalidFileType(message string) *Error {
	return newError(CodeInvalidFileType, message, false, nil)
}

func Internal(message string, err error) *Error {
	return newError(CodeInternal, message, false, err)
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, CodeInternal for foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// FromContext converts context termination into the matching taxonomy entry.
// Other errors are returned unchanged.
func FromContext(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(message, err)
	case errors.Is(err, context.Canceled):
		return NetworkError(message, err)
	}
	return err
}

// HTTPStatus maps a code to the response status used by the HTTP layer.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidationFailed, CodeInvalidFileType:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case CodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUploadFailed:
		return http.StatusBadGateway
	case CodeNetworkError:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// CodeForStatus is the inverse of HTTPStatus, used by clients decoding responses.
func CodeForStatus(status int) Code {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidationFailed
	case http.StatusConflict:
		return CodeConflict
	case http.StatusPreconditionFailed:
		return CodePreconditionFailed
	case http.StatusUnsupportedMediaType:
		return CodeUnsupportedMediaType
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusBadGateway:
		return CodeUploadFailed
	case http.StatusServiceUnavailable:
		return CodeNetworkError
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return CodeTimeout
	default:
		return CodeInternal
	}
}
