package cipher

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/ytget/ytcipher/errs"
)

// Error codes
const (
	ErrCodePatternNotFound  = "PATTERN_NOT_FOUND"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeIndexOutOfRange  = "INDEX_OUT_OF_RANGE"
	ErrCodeStoreWriteFailed = "STORE_WRITE_FAILED"
	ErrCodeInvalidProgram   = "INVALID_PROGRAM"
)

// Error represents a structured error with code and details
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != nil {
		msg += fmt.Sprintf(" (%v)", e.Details)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is makes every engine error match errs.ErrCipherFailed.
func (e *Error) Is(target error) bool {
	return target == errs.ErrCipherFailed
}

// Wrap records cause as the underlying error and returns e.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}

// MarshalJSON implements json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

// NewError creates a new Error with the given code and message
func NewError(code string, message string, details ...any) *Error {
	e := &Error{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPatternNotFound reports whether the player routine could not be recognised.
// Retrying will not help until the recogniser is updated.
func IsPatternNotFound(err error) bool {
	return Code(err) == ErrCodePatternNotFound
}

// IsFetchError reports whether the player script could not be retrieved.
// The caller may retry.
func IsFetchError(err error) bool {
	return Code(err) == ErrCodeFetchFailed
}

// IsIndexOutOfRange reports whether a program referenced a swap index beyond
// the working value.
func IsIndexOutOfRange(err error) bool {
	return Code(err) == ErrCodeIndexOutOfRange
}

// IsStoreError reports whether persisting a program failed.
func IsStoreError(err error) bool {
	return Code(err) == ErrCodeStoreWriteFailed
}

// IsInvalidProgram reports whether an encoded program could not be decoded.
func IsInvalidProgram(err error) bool {
	return Code(err) == ErrCodeInvalidProgram
}
