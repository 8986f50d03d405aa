package types

import (
	"errors"
	"fmt"
)

// Fehlerklassen der Erfassungskette. Aufrufer prüfen mit errors.Is.
var (
	// ErrConfig is fatal and only raised during startup.
	ErrConfig = errors.New("configuration error")

	// ErrConnection means a field-bus or database link is down. Recoverable.
	ErrConnection = errors.New("connection error")

	// ErrConnectionLost is the database link dropping during an insert.
	ErrConnectionLost = fmt.Errorf("%w: connection lost", ErrConnection)

	// ErrDecode means a register block did not match its table layout.
	ErrDecode = errors.New("decode error")

	// ErrConstraint is a server-side rejection of an insert. The record is dropped.
	ErrConstraint = errors.New("constraint violation")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
