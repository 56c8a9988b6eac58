package workload

import (
	"errors"
	"fmt"
)

// QueryExecutionError is a failure while running the probe on an acquired connection.
type QueryExecutionError struct {
	Query string
	Err   error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("probe %q failed: %v", e.Query, e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

// ErrAlreadyStarted is returned by Run on a worker that has been run before.
var ErrAlreadyStarted = errors.New("worker already started")

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
