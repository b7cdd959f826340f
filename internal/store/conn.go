package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Conn owns the single database connection and serializes access to it.
// A panic inside a guarded function poisons the connection; every later
// call fails with ErrLockPoisoned.
type Conn struct {
	mu       sync.Mutex
	db       *sql.DB
	poisoned error
}

func newConn(db *sql.DB) *Conn {
	return &Conn{db: db}
}

// Do runs fn while holding the connection lock.
func (c *Conn) Do(fn func(q querier) error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned != nil {
		return c.poisoned
	}
	defer func() {
		if r := recover(); r != nil {
			c.poisoned = fmt.Errorf("%w: %v", ErrLockPoisoned, r)
			err = c.poisoned
		}
	}()
	return fn(c.db)
}

// Tx runs fn inside a transaction while holding the connection lock.
// The transaction is committed when fn returns nil and rolled back otherwise.
func (c *Conn) Tx(fn func(tx querier) error) error {
	return c.Do(func(querier) error {
		tx, err := c.db.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Poisoned reports whether an earlier guarded call panicked.
func (c *Conn) Poisoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned != nil
}

func (c *Conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}
