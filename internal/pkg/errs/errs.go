package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medimart/internal/pkg/logx"
)

// CustomError is the error type used throughout the application.
// It carries a business code, a client-safe message, an HTTP status and an optional cause.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the user-friendly error description.
	Message string

	// Status is the HTTP status code the REST layer responds with.
	Status int

	cause error
}

func (e *CustomError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error %d (HTTP %d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *CustomError) Unwrap() error {
	return e.cause
}

// NewError builds a *CustomError from a registered code. details are printf
// arguments for message templates containing a verb. Unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("unknown error code %d", code),
			"Unknown error code requested",
			"requested_code", code,
		)
		templateErr = errorMap[ErrUnknown]
	}

	customErr := templateErr
	if customErr.Status == 0 {
		customErr.Status = http.StatusInternalServerError
	}

	if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Error details ignored: message template has no placeholder.", "code", code)
		}
	}

	return &customErr
}

// Wrap builds a *CustomError for code and records cause for logging and errors.Is checks.
// The cause never reaches the client.
func Wrap(code int, cause error) *CustomError {
	customErr := NewError(code)
	customErr.cause = cause
	return customErr
}

// From converts any error into a *CustomError. Errors that are not already
// custom errors become ErrUnknown with the original error as cause.
func From(err error) *CustomError {
	if err == nil {
		return nil
	}

	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	logx.Error(err, "Unclassified error mapped to ErrUnknown")
	return Wrap(ErrUnknown, err)
}

// IsCode reports whether err carries the given application code.
func IsCode(err error, code int) bool {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code == code
	}
	return false
}
