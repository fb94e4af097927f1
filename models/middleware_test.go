package models

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// flakyModel fails the first `failures` calls before producing any chunk.
type flakyModel struct {
	failures int32
	err      error
	calls    atomic.Int32
	chunks   []string
	// failMid ends the stream with err after the first chunk.
	failMid bool
}

func (f *flakyModel) Name() string { return "flaky" }

func (f *flakyModel) Stream_Model_Request(ctx context.Context, request Model_Request) (<-chan Model_Response, <-chan error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return FailedStream(f.err)
	}
	out := make(chan Model_Response)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errOut)
		for i, c := range f.chunks {
			if !Emit(ctx, out, Model_Response{Text: c}) {
				return
			}
			if f.failMid && i == 0 {
				errOut <- f.err
				return
			}
		}
	}()
	return out, errOut
}

var testRequest = Model_Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}

func collect(ctx context.Context, m Model) (string, error) {
	respChan, errChan := m.Stream_Model_Request(ctx, testRequest)
	return Collect(context.Background(), respChan, errChan)
}

func TestWrap_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Model) Model {
			order = append(order, name)
			return next
		}
	}
	Wrap(&flakyModel{}, mark("A"), mark("B"))
	if strings.Join(order, "") != "BA" {
		t.Errorf("Expected inner middleware applied first, got %v", order)
	}
}

func TestRetry_RecoversBeforeFirstChunk(t *testing.T) {
	inner := &flakyModel{failures: 2, err: errors.New("503"), chunks: []string{"ok"}}
	m := Wrap(inner, Retry(3, time.Millisecond))
	text, err := collect(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Errorf("Expected ok, got %q", text)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", inner.calls.Load())
	}
}

func TestRetry_SkipsPermanent(t *testing.T) {
	inner := &flakyModel{failures: 5, err: NewPermanentError(errors.New("401"))}
	m := Wrap(inner, Retry(3, time.Millisecond))
	_, err := collect(context.Background(), m)
	if !IsPermanent(err) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("Expected a single call, got %d", inner.calls.Load())
	}
}

func TestRetry_DoesNotRetryAfterDelivery(t *testing.T) {
	inner := &flakyModel{err: errors.New("reset"), chunks: []string{"partial", "rest"}, failMid: true}
	m := Wrap(inner, Retry(3, time.Millisecond))
	text, err := collect(context.Background(), m)
	if err == nil {
		t.Fatal("Expected mid-stream error to pass through")
	}
	if text != "partial" {
		t.Errorf("Expected partial text, got %q", text)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("Expected a single call, got %d", inner.calls.Load())
	}
}

func TestWithLogging_ForwardsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	m := Wrap(&flakyModel{chunks: []string{"a", "b"}}, WithLogging(logger))
	text, err := collect(context.Background(), m)
	if err != nil || text != "ab" {
		t.Fatalf("Expected ab, got %q (%v)", text, err)
	}
	if !strings.Contains(buf.String(), "Time to first token") {
		t.Errorf("Expected first token log, got %q", buf.String())
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	inner := &flakyModel{}
	if RateLimit(0, 0)(inner) != Model(inner) {
		t.Error("Expected RateLimit(0) to return the inner model")
	}
}

func TestRateLimit_CancelledContext(t *testing.T) {
	m := Wrap(&flakyModel{chunks: []string{"x"}}, RateLimit(0.001, 1))
	ctx := context.Background()
	// drain the burst
	if _, err := collect(ctx, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := collect(cctx, m)
	if err == nil {
		t.Error("Expected rate limit wait to fail on cancelled context")
	}
}

func TestConsume_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	m := &flakyModel{chunks: []string{"a", "b", "c"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := 0
	respChan, errChan := m.Stream_Model_Request(ctx, testRequest)
	err := Consume(ctx, respChan, errChan, func(Model_Response) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Errorf("Expected to stop after first chunk, seen=%d err=%v", seen, err)
	}
}
