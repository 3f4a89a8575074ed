// Package pgutils classifies PostgreSQL driver errors by SQLSTATE code.
package pgutils

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23 — Integrity Constraint Violation
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"

	// Class 40 — Transaction Rollback
	CodeSerializationFailure = "40001"
)

// IsUniqueViolation checks if the error is a unique constraint violation (23505).
func IsUniqueViolation(err error) bool {
	return hasErrorCode(err, CodeUniqueViolation)
}

// IsForeignKeyViolation checks if the error is a foreign key violation (23503).
func IsForeignKeyViolation(err error) bool {
	return hasErrorCode(err, CodeForeignKeyViolation)
}

// IsNotNullViolation checks if the error is a not-null constraint violation (23502).
func IsNotNullViolation(err error) bool {
	return hasErrorCode(err, CodeNotNullViolation)
}

// IsSerializationFailure checks if the error is a serializable-transaction
// conflict (40001), which callers should surface as a retryable conflict.
func IsSerializationFailure(err error) bool {
	return hasErrorCode(err, CodeSerializationFailure)
}

func hasErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	// Errors that crossed a database/sql boundary keep only the message.
	return strings.Contains(err.Error(), "SQLSTATE "+code)
}
