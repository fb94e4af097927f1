package models

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Middleware decorates a Model with a cross-cutting concern (logging, rate
// limiting, retries).
type Middleware func(Model) Model

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Model, mws ...Middleware) Model {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Logging --------

// WithLogging logs request size, time to first token and stream errors.
// A nil logger falls back to log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next Model) Model {
		return &loggingModel{next: next, log: logger}
	}
}

type loggingModel struct {
	next Model
	log  *log.Logger
}

func (l *loggingModel) Name() string { return l.next.Name() }

func (l *loggingModel) Stream_Model_Request(ctx context.Context, request Model_Request) (<-chan Model_Response, <-chan error) {
	start := time.Now()
	name := l.next.Name()
	l.log.Printf("LLM stream request (%s): %d messages, %d bytes", name, len(request.Messages), request.Size())

	in, inErr := l.next.Stream_Model_Request(ctx, request)
	out := make(chan Model_Response)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		chunks := 0
		err := Consume(ctx, in, inErr, func(resp Model_Response) error {
			if chunks == 0 {
				l.log.Printf("Time to first token (%s): %v", name, time.Since(start))
			}
			chunks++
			if !Emit(ctx, out, resp) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			l.log.Printf("LLM stream error (%s) after %d chunks: %v", name, chunks, err)
			errOut <- err
			return
		}
		l.log.Printf("LLM stream finished (%s): %d chunks in %v", name, chunks, time.Since(start))
	}()

	return out, errOut
}

// -------- Rate Limiting --------

// RateLimit throttles stream openings to rps per second with the given burst.
// If rps <= 0 the middleware is a no-op.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Model) Model {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		return &rateLimited{next: next, lim: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type rateLimited struct {
	next Model
	lim  *rate.Limiter
}

func (c *rateLimited) Name() string { return c.next.Name() }

func (c *rateLimited) Stream_Model_Request(ctx context.Context, request Model_Request) (<-chan Model_Response, <-chan error) {
	if err := c.lim.Wait(ctx); err != nil {
		return FailedStream(fmt.Errorf("rate limit: %w", err))
	}
	return c.next.Stream_Model_Request(ctx, request)
}

// -------- Retry --------

// Retry reopens the upstream stream up to maxAttempts times with exponential
// backoff starting at baseDelay. Only failures before the first chunk are
// retried; once text has been forwarded the error is passed through, as are
// permanent errors.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Model) Model {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next Model
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Stream_Model_Request(ctx context.Context, request Model_Request) (<-chan Model_Response, <-chan error) {
	out := make(chan Model_Response)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		var last error
		for i := 0; i < r.max; i++ {
			delivered := false
			in, inErr := r.next.Stream_Model_Request(ctx, request)
			err := Consume(ctx, in, inErr, func(resp Model_Response) error {
				delivered = true
				if !Emit(ctx, out, resp) {
					return ctx.Err()
				}
				return nil
			})
			if err == nil {
				return
			}
			if delivered || IsPermanent(err) || ctx.Err() != nil {
				errOut <- err
				return
			}
			last = err
			if i == r.max-1 {
				break
			}
			select {
			case <-ctx.Done():
				errOut <- ctx.Err()
				return
			case <-time.After(r.base * time.Duration(1<<i)):
			}
		}
		errOut <- last
	}()

	return out, errOut
}
