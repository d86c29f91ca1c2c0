// Package db opens and migrates the signalbox database.
package db

import (
	"errors"
	"fmt"
)

// ErrStorage marks failures of the underlying database: unreachable file or
// server, or a rejected write.
var ErrStorage = errors.New("storage error")

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }

func (e *storageError) Unwrap() []error { return []error{ErrStorage, e.err} }

// StorageError wraps err so that errors.Is(err, ErrStorage) holds. Returns nil
// when err is nil.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, err: err}
}
