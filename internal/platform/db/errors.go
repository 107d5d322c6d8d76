package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// Classify wraps lock timeouts, deadlocks and serialization failures as
// shared.RetryableError. Other errors are returned untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrRetryable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return &shared.RetryableError{Op: op, Err: err}
		}
	}
	return err
}

// IsUniqueViolation reports a 23505 error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
