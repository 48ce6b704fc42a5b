// Package fserror defines the error taxonomy shared by the identity store, the
// operation layer and the forest.
//
// Every error the storage core hands to a caller is an *Error or wraps one.
// The Code says what happened; Classify says what the caller should do about
// it: retry the same operation, re-resolve a stale path, pick a conflict
// policy, or give up.
package fserror

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode represents the category of a storage error.
type ErrorCode int

const (
	// ErrNotFound indicates the path, drive or node doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrIdentityMismatch indicates the id recorded on disk differs from the
	// id the caller (or the cache) expected at that path
	ErrIdentityMismatch

	// ErrStaleTimestamp indicates the file was modified after the caller took
	// its timestamp, typically while a hash was being computed
	ErrStaleTimestamp

	// ErrNotAFile indicates a regular file was expected
	ErrNotAFile

	// ErrNotADirectory indicates a directory was expected
	ErrNotADirectory

	// ErrInterrupted indicates the path of a node changed while an operation
	// on it was in flight
	ErrInterrupted

	// ErrConflict indicates a name collision that no policy resolved.
	// Aux is AuxSame or AuxDiff.
	ErrConflict

	// ErrMisaligned indicates an extent offset that is not block aligned
	ErrMisaligned

	// ErrNotSupported indicates the filesystem lacks a required primitive
	// (user xattrs, reflink, renameat2)
	ErrNotSupported

	// ErrInvalidArgument indicates malformed input
	ErrInvalidArgument

	// ErrHashMismatch indicates content whose fingerprint differs from
	// the fingerprint the caller declared
	ErrHashMismatch

	// ErrBusy indicates another writer holds the commit lock
	ErrBusy

	// ErrClosed indicates the forest dispatch loop is not running
	ErrClosed

	// ErrIO indicates any other disk error
	ErrIO
)

// Auxiliary conflict codes.
const (
	AuxSame = "EEXISTSAME"
	AuxDiff = "EEXISTDIFF"
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:         "ENOENT",
	ErrIdentityMismatch: "EINSTANCE",
	ErrStaleTimestamp:   "ETIMESTAMP",
	ErrNotAFile:         "ENOTFILE",
	ErrNotADirectory:    "ENOTDIR",
	ErrInterrupted:      "EINTERRUPTED",
	ErrConflict:         "EEXIST",
	ErrMisaligned:       "EALIGN",
	ErrNotSupported:     "ENOTSUP",
	ErrInvalidArgument:  "EINVAL",
	ErrHashMismatch:     "EHASH",
	ErrBusy:             "EBUSY",
	ErrClosed:           "ECLOSED",
	ErrIO:               "EIO",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error represents a classified storage error.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the filesystem path related to the error (if applicable)
	Path string

	// Aux refines Code; for ErrConflict it is AuxSame or AuxDiff
	Aux string

	// Err is the underlying cause, usually a syscall.Errno
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Aux != "" {
		msg += " (" + e.Aux + ")"
	}
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, &Error{Code: c}) match on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Aux == "" || t.Aux == e.Aux)
}

// New returns an *Error with code, path and message.
func New(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns an unresolved name collision error.
func Conflict(path string, same bool) *Error {
	aux := AuxDiff
	if same {
		aux = AuxSame
	}
	return &Error{Code: ErrConflict, Path: path, Aux: aux, Message: "name already exists", Err: syscall.EEXIST}
}

// FromErrno classifies an error returned by the os or unix packages. Errors
// that are already *Error pass through untouched.
func FromErrno(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	code := ErrIO
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			code = ErrNotFound
		case syscall.ENOTDIR:
			code = ErrNotADirectory
		case syscall.EEXIST:
			code = ErrConflict
		case syscall.EOPNOTSUPP, syscall.ENOSYS, syscall.EXDEV:
			// ENOTSUP is the same errno on Linux
			code = ErrNotSupported
		case syscall.EINVAL:
			code = ErrInvalidArgument
		}
	}
	return &Error{Code: code, Path: path, Message: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return 0, false
}

// Has reports whether err carries code.
func Has(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
