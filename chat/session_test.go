package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/Desarso/taxassist/history"
	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/stores"
	"github.com/stretchr/testify/require"
)

// stream is one turn opened on the fake transport.
type stream struct {
	ctx  context.Context
	req  models.Chat_Request
	resp chan models.Model_Response
	err  chan error
}

func (s *stream) send(t *testing.T, text string) {
	t.Helper()
	select {
	case s.resp <- models.Model_Response{Text: text}:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk not consumed")
	}
}

func (s *stream) end(err error) {
	if err != nil {
		s.err <- err
	}
	close(s.err)
	close(s.resp)
}

type fakeTransport struct {
	opened chan *stream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *stream, 4)}
}

func (f *fakeTransport) Stream(ctx context.Context, req models.Chat_Request) (<-chan models.Model_Response, <-chan error) {
	s := &stream{ctx: ctx, req: req, resp: make(chan models.Model_Response), err: make(chan error, 1)}
	f.opened <- s
	return s.resp, s.err
}

func (f *fakeTransport) next(t *testing.T) *stream {
	t.Helper()
	select {
	case s := <-f.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, e := range r.events {
		if len(out) == 0 || out[len(out)-1] != e.State {
			out = append(out, e.State)
		}
	}
	return out
}

func newTestSession() (*Session, *fakeTransport, *history.Store, *recorder) {
	ft := newFakeTransport()
	quiet := log.New(io.Discard, "", 0)
	hist := history.NewStore(stores.NewMemoryStore()).WithLogger(quiet)
	s := NewSession(ft, hist).WithLogger(quiet)
	rec := &recorder{}
	s.OnEvent(rec.record)
	return s, ft, hist, rec
}

func TestSubmit_RejectsEmptyInput(t *testing.T) {
	s, _, _, rec := newTestSession()
	require.ErrorIs(t, s.Submit(context.Background(), "   \n\t"), ErrEmptyInput)
	require.Equal(t, Idle, s.State())
	require.Empty(t, s.Messages())
	require.Empty(t, rec.states())
}

func TestSubmit_SettlesWithConcatenatedChunks(t *testing.T) {
	s, ft, hist, rec := newTestSession()
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "What's the standard deduction for 2024?"))
	require.Equal(t, Sending, s.State())

	st := ft.next(t)
	require.Len(t, st.req.Messages, 1)

	st.send(t, "The standard ")
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return s.State() == Streaming && len(msgs) == 2 && msgs[1].Content == "The standard "
	}, 2*time.Second, time.Millisecond)

	st.send(t, "deduction is ")
	st.send(t, "$14,600.")
	st.end(nil)
	require.NoError(t, s.Wait(ctx))

	require.Equal(t, Idle, s.State())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.Equal(t, "The standard deduction is $14,600.", msgs[1].Content)
	require.Equal(t, []State{Sending, Streaming, Settled, Idle}, rec.states())

	entries, err := hist.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "What's the standard deduction ...", entries[0].Title)
}

func TestSubmit_BusyWhileSending(t *testing.T) {
	s, ft, _, rec := newTestSession()
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "first"))
	require.Equal(t, Sending, s.State())
	require.ErrorIs(t, s.Submit(ctx, "second"), ErrBusy)
	require.Equal(t, Sending, s.State())
	require.Len(t, s.Messages(), 1)
	require.Equal(t, "first", s.Messages()[0].Content)

	st := ft.next(t)
	require.Len(t, st.req.Messages, 1)
	select {
	case extra := <-ft.opened:
		t.Fatalf("rejected submit opened a stream: %+v", extra.req)
	default:
	}

	st.send(t, "ok")
	st.end(nil)
	require.NoError(t, s.Wait(ctx))
	require.Equal(t, []State{Sending, Streaming, Settled, Idle}, rec.states())
}

func TestSubmit_BusyWhileStreaming(t *testing.T) {
	s, ft, _, _ := newTestSession()
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "first"))
	require.ErrorIs(t, s.Submit(ctx, "second"), ErrBusy)

	st := ft.next(t)
	st.send(t, "partial")
	require.Eventually(t, func() bool { return s.State() == Streaming }, 2*time.Second, time.Millisecond)
	require.ErrorIs(t, s.Submit(ctx, "third"), ErrBusy)
	require.Len(t, s.Messages(), 2)

	st.end(nil)
	require.NoError(t, s.Wait(ctx))
	require.NoError(t, s.Submit(ctx, "fourth"))
	next := ft.next(t)
	require.Len(t, next.req.Messages, 3)
	next.end(nil)
	require.NoError(t, s.Wait(ctx))
}

func TestSubmit_FailureShowsApology(t *testing.T) {
	s, ft, hist, rec := newTestSession()
	ctx := context.Background()

	var failure error
	s.OnEvent(func(e Event) {
		rec.record(e)
		if e.State == Failed {
			failure = e.Err
		}
	})

	require.NoError(t, s.Submit(ctx, "hi"))
	st := ft.next(t)
	st.send(t, "Hel")
	st.end(errors.New("connection reset"))
	require.NoError(t, s.Wait(ctx))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, ApologyMessage, msgs[1].Content)
	require.EqualError(t, failure, "connection reset")
	require.Equal(t, []State{Sending, Streaming, Failed, Idle}, rec.states())

	entries, _ := hist.List(ctx)
	require.Empty(t, entries, "failed turns are not filed")
}

func TestSubmit_FailureBeforeFirstChunk(t *testing.T) {
	s, ft, _, _ := newTestSession()
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "hi"))
	ft.next(t).end(errors.New("dial tcp: connection refused"))
	require.NoError(t, s.Wait(ctx))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.Equal(t, ApologyMessage, msgs[1].Content)
	require.Equal(t, Idle, s.State())
}

func TestNewChat_AbandonsActiveStream(t *testing.T) {
	s, ft, hist, _ := newTestSession()
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "first question"))
	old := ft.next(t)
	old.send(t, "stale ")

	require.NoError(t, s.NewChat(ctx))
	require.Equal(t, Idle, s.State())
	require.Empty(t, s.Messages())

	select {
	case <-old.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned stream was not cancelled")
	}

	require.NoError(t, s.Submit(ctx, "second question"))
	fresh := ft.next(t)
	require.Len(t, fresh.req.Messages, 1)
	fresh.send(t, "fresh")
	fresh.end(nil)
	require.NoError(t, s.Wait(ctx))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "second question", msgs[0].Content)
	require.Equal(t, "fresh", msgs[1].Content)

	entries, err := hist.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// NewChat filed the abandoned conversation without its half answer
	require.Len(t, entries[1].Messages, 1)
	require.Equal(t, "first question", entries[1].Messages[0].Content)
}

func TestLoadHistory_ReplacesConversation(t *testing.T) {
	s, ft, hist, _ := newTestSession()
	ctx := context.Background()

	saved := []models.Message{
		{Role: models.RoleUser, Content: "What is a 1099?"},
		{Role: models.RoleAssistant, Content: "An information return."},
	}
	_, err := hist.Save(ctx, saved)
	require.NoError(t, err)
	entries, _ := hist.List(ctx)

	require.NoError(t, s.Submit(ctx, "in flight"))
	ft.next(t)

	require.NoError(t, s.LoadHistory(ctx, entries[0].ID))
	require.Equal(t, saved, s.Messages())
	require.Equal(t, Idle, s.State())

	require.ErrorIs(t, s.LoadHistory(ctx, "missing"), history.ErrEntryNotFound)
}

func TestSubmit_SendsDocumentText(t *testing.T) {
	s, ft, _, _ := newTestSession()
	s.SetDocumentText("Box 1: 52,000")
	require.NoError(t, s.Submit(context.Background(), "summarize", models.Attachment{Name: "w2.txt"}))
	st := ft.next(t)
	require.Equal(t, "Box 1: 52,000", st.req.Document_Text)
	require.Len(t, st.req.Messages[0].Attachments, 1)
	st.end(nil)
	require.NoError(t, s.Wait(context.Background()))
}
