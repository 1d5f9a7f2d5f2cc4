// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDatabaseBusy marks a write rejected because another connection held the
// database lock past the busy timeout.
var ErrDatabaseBusy = errors.New("database busy")

// IsSQLiteConflictError reports whether err is SQLITE_BUSY or SQLITE_LOCKED,
// including their extended result codes.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	// Errors that lost their type crossing a driver or pool boundary.
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// WrapConflict tags SQLite conflict errors with ErrDatabaseBusy. Other errors
// are returned unchanged.
func WrapConflict(op string, err error) error {
	if !IsSQLiteConflictError(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrDatabaseBusy, err)
}
