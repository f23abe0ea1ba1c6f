// Package errors provides error types and handling for upload operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents an upload operation error with context about the operation
// that failed. It wraps the underlying transport or filesystem error with the
// asset and file the failure belongs to.
type Error struct {
	// Op is the operation that failed (e.g., "initialize", "uploadPart", "complete")
	Op string

	// Asset is the asset identifier (if applicable)
	Asset string

	// Path is the relative path of the file involved (if applicable)
	Path string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Asset != "" && e.Path != "" {
		return fmt.Sprintf("upload.%s %s/%s: %v", e.Op, e.Asset, e.Path, e.Err)
	}
	if e.Asset != "" {
		return fmt.Sprintf("upload.%s asset %s: %v", e.Op, e.Asset, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("upload.%s file %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("upload.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithAsset adds asset context to an existing error.
func (e *Error) WithAsset(asset string) *Error {
	e.Asset = asset
	return e
}

// WithPath adds file path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewAssetError creates a new Error with asset context.
func NewAssetError(op, asset string, err error) *Error {
	return &Error{
		Op:    op,
		Asset: asset,
		Err:   err,
	}
}

// NewFileError creates a new Error with asset and file context.
func NewFileError(op, asset, path string, err error) *Error {
	return &Error{
		Op:    op,
		Asset: asset,
		Path:  path,
		Err:   err,
	}
}

// Sentinel errors for the upload error taxonomy.
// These can be used with errors.Is() for error checking.
var (
	// ErrInitialization indicates that opening the upload session failed.
	// Fatal to the cycle: no parts were dispatched and no state was committed.
	ErrInitialization = errors.New("upload: session initialization failed")

	// ErrPartTransfer indicates that a single part transfer failed. Scoped to
	// one file; sibling files are unaffected.
	ErrPartTransfer = errors.New("upload: part transfer failed")

	// ErrCompletion indicates that session finalization failed. Parts remain
	// uploaded; completion alone is safe to retry.
	ErrCompletion = errors.New("upload: session completion failed")

	// ErrPermission indicates that read access to a file handle was denied at
	// resume time. The file cannot be retried until access is re-granted.
	ErrPermission = errors.New("upload: file access denied")

	// ErrSessionIncomplete indicates that one or more files have not completed.
	ErrSessionIncomplete = errors.New("upload: session has unfinished files")

	// ErrPlanMismatch indicates that the remote part plan disagrees with the
	// locally computed plan for the same part size.
	ErrPlanMismatch = errors.New("upload: remote part plan does not match local plan")

	// ErrNoUploadID indicates that a part transfer or completion was attempted
	// before the session was initialized.
	ErrNoUploadID = errors.New("upload: session not initialized")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("upload: invalid input")
)

// IsPermission checks if an error indicates denied file access.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsPartTransfer checks if an error originated in a part transfer.
func IsPartTransfer(err error) bool {
	return errors.Is(err, ErrPartTransfer)
}

// IsSessionIncomplete checks if an error reports unfinished files.
func IsSessionIncomplete(err error) bool {
	return errors.Is(err, ErrSessionIncomplete)
}
