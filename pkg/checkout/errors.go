package checkout

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the checkout controller.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrInvalidKind             = errors.New("invalid purchase kind")
	ErrInvalidStatus           = errors.New("invalid session status")
	ErrInvalidOwner            = errors.New("invalid owner")
	ErrInvalidEmail            = errors.New("invalid email")
	ErrInvalidControllerConfig = errors.New("invalid controller config")
	ErrSessionActive           = errors.New("session already active")
	ErrNotCancellable          = errors.New("session not cancellable")
	ErrSessionSuperseded       = errors.New("session superseded")
	ErrControllerClosed        = errors.New("controller closed")
	ErrMissingQRImage          = errors.New("missing qr image")
	ErrTotalUnavailable        = errors.New("no unique total available")
	ErrFulfillmentFailed       = errors.New("fulfillment failed after payment")
	ErrSessionNotFound         = errors.New("session not found")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
