package apprunner

import (
	"errors"
	"fmt"
	"net/http"
)

// Dispatch error codes.
const (
	CodeUnknownController    = "UNKNOWN_CONTROLLER"
	CodeDictionaryNotLast    = "DICTIONARY_NOT_LAST"
	CodeMissingArgument      = "MISSING_ARGUMENT"
	CodeExpectingArgument    = "EXPECTING_ARGUMENT"
	CodeMissingIdentifier    = "MISSING_IDENTIFIER"
	CodeInvalidParameterType = "INVALID_PARAMETER_TYPE"
	CodeNoResponse           = "NO_RESPONSE"
)

var (
	// ErrAlreadyExecuted is returned by a second call to Execute on the same AppRunner.
	ErrAlreadyExecuted = errors.New("apprunner: already executed")

	// ErrNotFound is returned by a Finder when no entity has the requested identifier.
	ErrNotFound = errors.New("apprunner: entity not found")
)

// DispatchError is a user-facing failure of a dispatch, carrying the HTTP status
// the host should answer with.
type DispatchError struct {
	Code    string      `json:"code"`
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *DispatchError) Error() string {
	return e.Code + ": " + e.Message
}

// StatusCode returns the HTTP status for the error.
func (e *DispatchError) StatusCode() int {
	return e.Status
}

// IsCode reports whether err is a DispatchError with the given code.
func IsCode(err error, code string) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == code
}

func errUnknownController(name string) *DispatchError {
	return &DispatchError{
		Code:    CodeUnknownController,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("Unknown controller: %s", name),
	}
}

func errDictionaryNotLast() *DispatchError {
	return &DispatchError{
		Code:    CodeDictionaryNotLast,
		Status:  http.StatusInternalServerError,
		Message: "Dictionary must be last parameter",
	}
}

func errMissingArgument(typeName string, position int) *DispatchError {
	return &DispatchError{
		Code:    CodeMissingArgument,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Invalid arguments - missing %s as argument %d", typeName, position),
	}
}

func errExpectingArgument(position int) *DispatchError {
	return &DispatchError{
		Code:    CodeExpectingArgument,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Invalid arguments - expecting argument %d", position),
	}
}

func errMissingIdentifier(position int) *DispatchError {
	return &DispatchError{
		Code:    CodeMissingIdentifier,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("Invalid arguments - missing identifier as argument %d", position),
	}
}

func errInvalidParameterType(typeName string) *DispatchError {
	return &DispatchError{
		Code:    CodeInvalidParameterType,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("Invalid parameter type: %s", typeName),
	}
}

func errNoResponse() *DispatchError {
	return &DispatchError{
		Code:    CodeNoResponse,
		Status:  http.StatusInternalServerError,
		Message: "App did not produce any response",
	}
}
