package neuron

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds reported across the pipeline. Use errors.Is against these.
var (
	ErrNotFound      = errors.New("not found")
	ErrKeyNotFound   = errors.New("key not found")
	ErrTransport     = errors.New("transport error")
	ErrParse         = errors.New("parse error")
	ErrCorruptData   = errors.New("corrupt data")
	ErrIO            = errors.New("io error")
	ErrFatalInternal = errors.New("fatal internal fault")
)

// TransportError reports a failed request for a remote page.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ParseError reports a response body that did not have the expected structure.
type ParseError struct {
	URL     string
	Excerpt string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v (near %q)", e.URL, e.Err, e.Excerpt)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// PathError attaches a filesystem or object path to a NotFound, CorruptData
// or IO failure. Kind must be one of those sentinels.
type PathError struct {
	Kind error
	Path string
	Err  error
}

func (e *PathError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	case errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
	}
}

func (e *PathError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FatalError wraps a recovered panic or a broken orchestration invariant.
// It is never retried.
type FatalError struct {
	Value any
	Stack []byte
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%v: %v", ErrFatalInternal, e.Value)
}

func (e *FatalError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Is matches ErrFatalInternal.
func (e *FatalError) Is(target error) bool { return target == ErrFatalInternal }

// Kind returns the sentinel describing err, or nil when err is nil or
// unclassified. Context cancellation is reported as context.Canceled.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		ErrFatalInternal,
		ErrCorruptData,
		ErrNotFound,
		ErrKeyNotFound,
		ErrTransport,
		ErrParse,
		ErrIO,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
