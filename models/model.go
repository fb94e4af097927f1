package models

import (
	"context"
	"errors"
	"strings"
)

// Model is a hosted chat-completion client producing an incremental token
// stream. Implementations close both channels when the stream ends; at most
// one error is delivered on the error channel.
type Model interface {
	Name() string
	Stream_Model_Request(ctx context.Context, request Model_Request) (<-chan Model_Response, <-chan error)
}

// ErrEmptyHistory is returned when a request carries no usable messages.
var ErrEmptyHistory = errors.New("conversation history is empty")

// PermanentError marks a failure that will not resolve with retries
// (invalid key, malformed request).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// FailedStream returns an already finished stream carrying err.
func FailedStream(err error) (<-chan Model_Response, <-chan error) {
	respChan := make(chan Model_Response)
	errChan := make(chan error, 1)
	errChan <- err
	close(errChan)
	close(respChan)
	return respChan, errChan
}

// Emit sends resp on out unless ctx is done first. It reports whether the
// chunk was delivered.
func Emit(ctx context.Context, out chan<- Model_Response, resp Model_Response) bool {
	select {
	case out <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}

// Consume reads a stream until both channels are closed, calling fn for every
// chunk in arrival order. It returns the first stream error, the first error
// returned by fn, or ctx.Err() if the context ends first.
func Consume(ctx context.Context, respChan <-chan Model_Response, errChan <-chan error, fn func(Model_Response) error) error {
	for respChan != nil || errChan != nil {
		select {
		case resp, ok := <-respChan:
			if !ok {
				respChan = nil
				continue
			}
			if err := fn(resp); err != nil {
				return err
			}
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Collect drains a stream into a single string.
func Collect(ctx context.Context, respChan <-chan Model_Response, errChan <-chan error) (string, error) {
	var b strings.Builder
	err := Consume(ctx, respChan, errChan, func(r Model_Response) error {
		b.WriteString(r.Text)
		return nil
	})
	return b.String(), err
}
