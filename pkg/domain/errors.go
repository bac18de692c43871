package domain

import "errors"

// ErrResponseCommitted is returned when a redirect or status change is attempted
// after the response body has been written.
var ErrResponseCommitted = errors.New("response already committed")

// ErrNoEnvironment is returned when an operation needs the current environment
// but the context does not carry one.
var ErrNoEnvironment = errors.New("no current environment")
