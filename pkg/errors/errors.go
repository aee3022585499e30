package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("authentication credential is missing")
	ErrCredentialExpired = errors.New("authentication credential has expired")

	ErrNoActiveSession = errors.New("no active tracking session")
	ErrOfflineMode     = errors.New("tracking is in offline mode")

	ErrNotConnected    = errors.New("tracking channel is not connected")
	ErrConnectionLost  = errors.New("tracking channel connection lost")
	ErrAckTimeout      = errors.New("timed out waiting for acknowledgement")
	ErrCommandRejected = errors.New("command rejected by tracking service")

	ErrIssueNotFound = errors.New("issue not found")
	ErrInvalidInput  = errors.New("invalid input data")
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
