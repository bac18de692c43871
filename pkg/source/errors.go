package source

import (
	"errors"
	"fmt"
)

// ErrUnknownScheme is returned for locations whose scheme has no factory.
var ErrUnknownScheme = errors.New("unknown source scheme")

// IOError wraps a failure to read or write a source.
type IOError struct {
	Op  string
	URI string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioError(op, uri string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, URI: uri, Err: err}
}
