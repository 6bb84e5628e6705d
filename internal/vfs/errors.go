// Package vfs provides the in-memory file store of a playground.
//
// This file contains error types and error handling utilities.
package vfs

import (
	"errors"
	"fmt"

	"playfs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrInvalidPath indicates a missing parent chain or an impossible target
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotAFile indicates a file operation on a directory
	ErrNotAFile = errors.New("not a file")

	// ErrNotADirectory indicates a directory operation on a file
	ErrNotADirectory = errors.New("not a directory")

	// ErrNotFound indicates the path doesn't exist
	ErrNotFound = errors.New("path not found")

	// ErrDirectoryNotEmpty indicates attempt to remove non-empty directory
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrAlreadyExists indicates path already exists
	ErrAlreadyExists = errors.New("a directory already exists with the same name")
)

// Error wraps store errors with the operation and affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "write", "rename")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	e := &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
	errLogger.Debug("Created new store error: %v", e)
	return e
}

// Operation names for consistent logging and error reporting
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpMkdir  = "mkdir"
	OpRemove = "remove"
	OpRename = "rename"
	OpList   = "list"
	OpStat   = "stat"
)
