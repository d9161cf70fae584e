package storage

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a Backend or the Manager matches
// ErrStorage and exactly one of the other kinds with errors.Is.
var (
	ErrStorage        = errors.New("storage error")
	ErrConfiguration  = errors.New("storage misconfigured")
	ErrConnection     = errors.New("storage unreachable")
	ErrAuthentication = errors.New("storage authentication failed")
	ErrPermission     = errors.New("permission denied")
	ErrPathParse      = errors.New("invalid path")
	ErrNotFound       = errors.New("not found")
	ErrExists         = errors.New("already exists")
	ErrIsDirectory    = errors.New("is a directory")
	ErrNotDirectory   = errors.New("not a directory")

	// ErrPathTraversal is a permission error: a path that escapes the root
	// is reported as denied, never as missing.
	ErrPathTraversal = fmt.Errorf("%w: path escapes storage root", ErrPermission)

	ErrBackendNotFound = errors.New("storage backend not found")
	ErrBackendExists   = errors.New("storage backend already registered")
	ErrOutsideBase     = errors.New("path outside download base")
)

// Error describes a failed storage operation on a path.
type Error struct {
	Op   string // operation, e.g. "upload"
	Path string // path as given by the caller
	Kind error  // one of the Err* kinds above
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind and the ErrStorage root.
func (e *Error) Is(target error) bool {
	return target == ErrStorage || errors.Is(e.Kind, target)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error. A nil kind means a generic storage failure.
func NewError(op, path string, kind, cause error) *Error {
	if kind == nil {
		kind = ErrStorage
	}
	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}

// KindOf returns the kind of err, or ErrStorage for foreign errors.
func KindOf(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, k := range []error{
		ErrPathTraversal, ErrPermission, ErrPathParse, ErrNotFound, ErrExists,
		ErrIsDirectory, ErrNotDirectory, ErrBackendNotFound, ErrBackendExists,
		ErrOutsideBase, ErrConfiguration, ErrConnection, ErrAuthentication,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrStorage
}
