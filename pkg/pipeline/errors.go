package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete is returned when a pipeline is executed without a
	// generator and serializer, or a reader.
	ErrIncomplete = errors.New("pipeline is incomplete")

	// ErrAlreadySet is returned when a second generator, serializer or reader
	// is added to a pipeline.
	ErrAlreadySet = errors.New("pipeline component already set")

	// ErrMixed is returned when a reader is combined with XML components.
	ErrMixed = errors.New("a reader cannot be combined with a generator, transformer or serializer")
)

// ResourceNotFoundError reports that no pipeline matched a request URI.
type ResourceNotFoundError struct {
	URI string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("no pipeline matched request: %s", e.URI)
}
