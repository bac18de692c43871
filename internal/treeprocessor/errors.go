package treeprocessor

import (
	"errors"
	"fmt"
)

// ErrInvalidSitemap is wrapped by build errors about the overall document.
var ErrInvalidSitemap = errors.New("invalid sitemap")

// BuildError reports a sitemap element that could not be compiled.
type BuildError struct {
	Location string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v", e.Location, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func buildErrorf(location, format string, args ...any) *BuildError {
	return &BuildError{Location: location, Err: fmt.Errorf(format, args...)}
}

// ProcessingError is a failure while invoking the node at Location.
type ProcessingError struct {
	Location string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Location, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// SitemapLocation returns the position of the failing node. The error
// generator reads it.
func (e *ProcessingError) SitemapLocation() string { return e.Location }

// processingError wraps err unless it already carries a location.
func processingError(location string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return &ProcessingError{Location: location, Err: err}
}
