package broker

import (
	"errors"
	"fmt"
)

// Typed failures surfaced by the accounting engine and order book.
// Callers match with errors.Is; the transport layer maps them to status
// codes without the core knowing about HTTP.
var (
	ErrUnknownUser          = errors.New("unknown user")
	ErrUserExists           = errors.New("user already exists")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrInvalidOrderType     = errors.New("invalid order type")
)

// StorageError wraps a fault from the durable store. Any operation that
// fails with it has been fully rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
