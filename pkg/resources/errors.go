package resources

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound reports a required bundled directory that is missing,
	// which means the bundle is corrupt or incomplete.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrPermissionDenied reports a state directory that cannot be created or
	// written.
	ErrPermissionDenied = errors.New("permission denied")
)

// PathError ties a resolution failure to the path that caused it.
type PathError struct {
	Kind error // ErrResourceNotFound or ErrPermissionDenied
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *PathError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
