package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("already exists")
	// ErrInvalid is returned for input the store refuses to persist.
	ErrInvalid = errors.New("invalid input")
	// ErrLockPoisoned is returned after a guarded operation panicked.
	ErrLockPoisoned = errors.New("database lock poisoned")
	// ErrSealed is returned when a sealed setting cannot be opened.
	ErrSealed = errors.New("sealed setting cannot be opened")
)

// Error is a failure reported by the underlying database.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap annotates err with the store operation that produced it.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = ErrNotFound
	case isUniqueViolation(err):
		err = fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return &Error{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// requireRow turns a write that touched no rows into ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
