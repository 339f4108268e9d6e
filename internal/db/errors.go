package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrCapBelowSold      = errors.New("cap cannot be lower than sold")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidValue      = errors.New("setting value is not numeric")
	ErrDuplicate         = errors.New("duplicate key")
)

// IsTransient reports whether err is a store failure that is safe to retry:
// lost connections, serialization failures, deadlocks, resource exhaustion,
// operator intervention and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
