package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is delivered to a handler whose URI was already fetched.
	ErrDuplicate = errors.New("duplicate request skipped")
	// ErrClosed is returned once the engine has shut down.
	ErrClosed = errors.New("engine closed")
	// ErrEmptyTarget is returned when a task resolves to no URI.
	ErrEmptyTarget = errors.New("empty target")
)

// FetchError is the terminal failure of a task whose retries ran out.
type FetchError struct {
	URI      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URI, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DocumentError reports a parse tree that could not be built.
type DocumentError struct {
	URI string
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("build document for %s: %v", e.URI, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned or raised by a task handler.
type HandlerError struct {
	TaskID string
	Target string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for task %s (%s): %v", e.TaskID, e.Target, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// HandlerPanicError carries a recovered handler panic.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
