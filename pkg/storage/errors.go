package storage

import (
	"errors"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNoSuchPath        = errors.New("no such path")
	ErrNotAFile          = errors.New("not a file")
	ErrNotAFolder        = errors.New("not a folder")
	ErrFileAlreadyExists = errors.New("file already exists")
	ErrPathAlreadyExists = errors.New("path already exists")
	ErrFolderNotEmpty    = errors.New("folder not empty")
	ErrContentIntegrity  = errors.New("content integrity error")
	ErrValidation        = errors.New("validation error")
	ErrStorageBackend    = errors.New("storage backend error")
)

var kinds = []error{
	ErrNoSuchPath,
	ErrNotAFile,
	ErrNotAFolder,
	ErrFileAlreadyExists,
	ErrPathAlreadyExists,
	ErrFolderNotEmpty,
	ErrContentIntegrity,
	ErrValidation,
	ErrStorageBackend,
}

// Error is returned by every Provider operation.
type Error struct {
	Kind  error
	Op    string
	Path  string
	Msg   string
	Cause error
}

var _ error = (*Error)(nil)

// NewError builds an *Error of the given kind.
func NewError(kind error, op, path, msg string, cause error) error {
	return &Error{Kind: kind, Op: op, Path: path, Msg: msg, Cause: cause}
}

// BackendError wraps a lower-level I/O failure. An error that already
// carries a kind passes through untouched.
func BackendError(op, path string, cause error) error {
	if cause == nil {
		return nil
	}
	var se *Error
	if errors.As(cause, &se) {
		return cause
	}
	return &Error{Kind: ErrStorageBackend, Op: op, Path: path, Cause: cause}
}

func (err *Error) Error() string {
	if err == nil {
		return "(*storage.Error)(nil)"
	}
	message := err.Kind.Error()
	if err.Op != "" {
		message = err.Op + ": " + message
	}
	if err.Path != "" {
		message += " " + quote(err.Path)
	}
	if err.Msg != "" {
		message += ": " + err.Msg
	}
	if err.Cause != nil {
		message += ": " + err.Cause.Error()
	}
	return message
}

func (err *Error) Unwrap() []error {
	if err.Cause == nil {
		return []error{err.Kind}
	}
	return []error{err.Kind, err.Cause}
}

// KindOf returns the error kind carried by err, or nil when err is not a
// storage error.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func quote(p string) string {
	if p == "" {
		return "\"/\""
	}
	return "\"" + p + "\""
}
