package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicateOperation    = errors.New("duplicate operation")
	ErrEntryNotFound         = errors.New("entry not found")
	ErrInvalidAccountID      = errors.New("invalid account id")
	ErrInvalidEntryID        = errors.New("invalid entry id")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidCircleID       = errors.New("invalid circle id")
	ErrInvalidRequestID      = errors.New("invalid request id")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidPoints         = errors.New("invalid points")
	ErrInvalidDelta          = errors.New("invalid delta")
	ErrInvalidReason         = errors.New("invalid reason")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrInvalidBalance        = errors.New("invalid balance")
)

// InsufficientFundsError reports the balance observed under the account lock
// and the amount the rejected debit required.
type InsufficientFundsError struct {
	Scope    AccountScope
	Balance  Points
	Required Points
}

func (insufficientFunds *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: %s has %d, requires %d", ErrInsufficientFunds, insufficientFunds.Scope.Key(), insufficientFunds.Balance, insufficientFunds.Required)
}

// Unwrap lets errors.Is match ErrInsufficientFunds.
func (insufficientFunds *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

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
