package engine

import (
	"errors"
	"fmt"
)

// ErrAmbiguousMatch is returned when a directive cannot identify exactly one
// existing child record or pivot row.
var ErrAmbiguousMatch = errors.New("ambiguous match")

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
	Err     error         `json:"-"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity string, id any) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %v not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func AmbiguousMatchError(err error) *AppError {
	return &AppError{
		Code:    "AMBIGUOUS_MATCH",
		Status:  409,
		Message: err.Error(),
		Err:     err,
	}
}

func ConflictError(msg string, err error) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Status:  409,
		Message: msg,
		Err:     err,
	}
}

func ambiguous(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAmbiguousMatch, fmt.Sprintf(format, args...))
}

// prefixDetails rewrites detail fields relative to a nesting path,
// e.g. "name" under "cities.1" becomes "cities.1.name".
func prefixDetails(path string, details []ErrorDetail) []ErrorDetail {
	if path == "" {
		return details
	}
	out := make([]ErrorDetail, len(details))
	for i, d := range details {
		d.Field = joinPath(path, d.Field)
		out[i] = d
	}
	return out
}

func joinPath(parts ...string) string {
	var path string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if path != "" {
			path += "."
		}
		path += p
	}
	return path
}
