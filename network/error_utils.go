package network

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Failure kinds used to label failed probes in logs.
const (
	FailurePoolExhausted = "pool_exhausted"
	FailurePoolClosed    = "pool_closed"
	FailureTimeout       = "timeout"
	FailureConnection    = "connection"
	FailureServer        = "server"
	FailureUnknown       = "unknown"
)

// IsPoolExhausted checks if no connection became free within the acquire bound
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsTimeoutError checks if an error is a timeout or cancellation
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionError checks if an error comes from establishing or using the transport
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}

// Classify maps an acquire or probe error to one of the Failure kinds
func Classify(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return ""
	case IsPoolExhausted(err):
		return FailurePoolExhausted
	case errors.Is(err, ErrPoolClosed):
		return FailurePoolClosed
	case IsTimeoutError(err):
		return FailureTimeout
	case errors.As(err, &pgErr):
		return FailureServer
	case IsConnectionError(err):
		return FailureConnection
	default:
		return FailureUnknown
	}
}
