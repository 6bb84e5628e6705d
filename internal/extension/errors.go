package extension

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means a dependency exists but has no executable URL
	// yet. It is not a failure: the dependent is retried once the
	// dependency publishes.
	ErrUnavailable = errors.New("dependency not available yet")

	// ErrMissing means a referenced file does not exist in the store, or
	// cannot be linked because the import would close a cycle. The
	// reference is left as written.
	ErrMissing = errors.New("no such file")
)

// TransformError reports a transform that failed for path.
type TransformError struct {
	Path string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform of %s failed: %v", e.Path, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// NewTransformError wraps err unless it only signals an unavailable
// dependency, which callers handle separately.
func NewTransformError(path string, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	var te *TransformError
	if errors.As(err, &te) {
		return err
	}
	return &TransformError{Path: path, Err: err}
}
