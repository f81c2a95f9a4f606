package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"slices"
	"strconv"
	"strings"
)

// errorCoder is implemented by driver errors exposing a code string, e.g. modernc.org/sqlite.
type errorCoder interface {
	Code() string
}

// errorNumberer is implemented by driver errors exposing a numeric code.
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is implemented by errors carrying a SQLSTATE, e.g. pgx and lib/pq.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
	pgConnectionClass      = "08"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451
	mysqlForeignKeyChild        = 1452
	mysqlCheckConstraintViolate = 3819
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
	mysqlServerGone             = 2006
	mysqlServerLost             = 2013
)

// IsTransient reports whether err is a store failure worth retrying: serialization
// failures, deadlocks, lock timeouts, dropped connections and busy SQLite databases.
// Context errors are never transient.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, driver.ErrBadConn):
		return true
	}
	if e, ok := asError[sqlStateError](err); ok && transientState(e.SQLState()) {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok {
		switch e.Number() {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlServerGone, mysqlServerLost:
			return true
		}
	}
	// String fallbacks for drivers without typed errors.
	return containsAny(err.Error(),
		"database is locked",
		"database table is locked",
		"SQLITE_BUSY",
		"Error 1205",
		"Error 1213",
		"deadlock detected",
		"could not serialize access",
	)
}

func transientState(state string) bool {
	switch state {
	case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown:
		return true
	}
	return strings.HasPrefix(state, pgConnectionClass)
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	return matchConstraint(err, []string{pgUniqueViolation}, []uint16{mysqlDuplicateEntry},
		"Error 1062",
		"violates unique constraint",
		"UNIQUE constraint failed",
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	return matchConstraint(err, []string{pgForeignKeyViolation}, []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",
		"Error 1452",
		"violates foreign key constraint",
		"FOREIGN KEY constraint failed",
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	return matchConstraint(err, []string{pgCheckViolation}, []uint16{mysqlCheckConstraintViolate},
		"Error 3819",
		"violates check constraint",
		"CHECK constraint failed",
	)
}

func matchConstraint(err error, states []string, numbers []uint16, fallback ...string) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && slices.Contains(states, e.SQLState()) {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && slices.Contains(states, e.Code()) {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok && slices.Contains(numbers, e.Number()) {
		return true
	}
	return containsAny(err.Error(), fallback...)
}

// ErrorCode returns the SQLSTATE or vendor error number carried by err, if any.
func ErrorCode(err error) (string, bool) {
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState(), true
	}
	if e, ok := asError[errorCoder](err); ok {
		return e.Code(), true
	}
	if e, ok := asError[errorNumberer](err); ok {
		return strconv.Itoa(int(e.Number())), true
	}
	return "", false
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	if errors.As(err, &target) {
		return target, true
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
