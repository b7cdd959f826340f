package store

import (
	"fmt"
	"strings"
)

const (
	importHashPrefix = "import_hash:"
	sealedPrefix     = "sealed:v1:"
)

// Sealer encrypts setting values at rest.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// UseSealer makes the store encrypt the values of the given setting keys
// with sl. Unmarked values written before a sealer was configured are read
// back unchanged.
func (s *Store) UseSealer(sl Sealer, keys ...string) {
	s.sealer = sl
	for _, k := range keys {
		s.secret[k] = true
	}
}

// SetSetting upserts a key-value pair in the settings table.
func (s *Store) SetSetting(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("set setting: %w: empty key", ErrInvalid)
	}
	if s.sealer != nil && s.secret[key] {
		sealed, err := s.sealer.Seal([]byte(value))
		if err != nil {
			return fmt.Errorf("seal setting %q: %w", key, err)
		}
		value = sealedPrefix + sealed
	}
	err := s.conn.Do(func(db querier) error {
		_, err := db.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		return err
	})
	return wrap("set setting", err)
}

// GetSetting returns the value for a setting key. The boolean is false if
// the key has never been set.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.conn.Do(func(db querier) error {
		return db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	})
	if err != nil {
		err = wrap("get setting", err)
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	sealed, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, true, nil
	}
	if s.sealer == nil {
		return "", false, &Error{Op: "get setting " + key, Err: fmt.Errorf("%w: no secret key configured", ErrSealed)}
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return "", false, &Error{Op: "get setting " + key, Err: fmt.Errorf("%w: %v", ErrSealed, err)}
	}
	return string(plain), true, nil
}

// GetImportedFileHash returns the content hash recorded for an imported
// questions file, or empty string if it was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	v, _, err := s.GetSetting(importHashPrefix + path)
	return v, err
}

// SetImportedFileHash records the content hash of an imported questions file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	return s.SetSetting(importHashPrefix+path, hash)
}
