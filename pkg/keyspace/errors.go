package keyspace

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations invoked before Connect or
	// after Close. No store I/O happens in that case.
	ErrNotConnected = errors.New("keyspace: not connected")

	// ErrSubscriptionUnavailable is returned by Subscribe and Unsubscribe when
	// the client was connected without pub/sub.
	ErrSubscriptionUnavailable = errors.New("keyspace: pub/sub not enabled for this connection")

	ErrAlreadyConnected = errors.New("keyspace: already connected")
)

// ConnectionError reports a failure to establish or tear down a connection.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("keyspace: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("keyspace: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StoreError wraps a failure returned by the store for a data or pub/sub
// operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("keyspace: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
