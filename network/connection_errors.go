package network

import (
	"errors"
	"fmt"
)

// ConnectionPoolError represents errors specific to connection pool operations
type ConnectionPoolError struct {
	Op  string
	Err error
}

func (e *ConnectionPoolError) Error() string {
	return fmt.Sprintf("connection pool error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionPoolError) Unwrap() error {
	return e.Err
}

// IsConnectionPoolError checks if an error is a connection pool error
func IsConnectionPoolError(err error) bool {
	var target *ConnectionPoolError
	return errors.As(err, &target)
}

// PoolInitError means the first pool could not be established. It is fatal at startup.
type PoolInitError struct {
	Address string
	Err     error
}

func (e *PoolInitError) Error() string {
	return fmt.Sprintf("initialize pool against %s: %v", e.Address, e.Err)
}

func (e *PoolInitError) Unwrap() error {
	return e.Err
}

var (
	ErrPoolClosed    = errors.New("connection pool is closed")
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrInitialized   = errors.New("connection pool already initialized")
)
