package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Desarso/taxassist"
	"github.com/Desarso/taxassist/chat"
	"github.com/Desarso/taxassist/client"
	"github.com/Desarso/taxassist/extract"
	"github.com/Desarso/taxassist/history"
	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/render"
)

const replHelp = `Commands:
  /new            start a new conversation (the current one is saved)
  /history        list saved conversations
  /load N         continue saved conversation N
  /clear          delete all saved conversations
  /upload PATH    attach a W-2, 1099 or other document to the next question
  /help           show this help
  /quit           exit
`

// repl is the line-oriented terminal chat.
type repl struct {
	ctx      context.Context
	client   *client.Client
	session  *chat.Session
	history  *history.Store
	renderer *render.Renderer
	cache    *extract.Cache
	in       *bufio.Scanner
	out      io.Writer

	pending []models.Attachment
	listed  []history.Entry

	mu      sync.Mutex
	typing  bool
	turnErr error
}

func newREPL(ctx context.Context, c *client.Client, s *chat.Session, h *history.Store, renderer *render.Renderer, cache *extract.Cache, in io.Reader, out io.Writer) *repl {
	r := &repl{
		ctx:      ctx,
		client:   c,
		session:  s,
		history:  h,
		renderer: renderer,
		cache:    cache,
		in:       bufio.NewScanner(in),
		out:      out,
	}
	s.OnEvent(r.onEvent)
	return r
}

// onEvent runs with the session locked; it only records and prints.
func (r *repl) onEvent(ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.State {
	case chat.Streaming:
		if !r.typing {
			r.typing = true
			fmt.Fprintln(r.out, "TaxAssist is typing...")
		}
	case chat.Failed:
		r.turnErr = ev.Err
	}
}

func (r *repl) run() error {
	fmt.Fprintln(r.out, "TaxAssist AI. Ask questions about Form 1040, deductions, and more.")
	fmt.Fprintln(r.out, "Suggested questions:")
	for _, q := range taxassist.SuggestedQuestions {
		fmt.Fprintf(r.out, "  - %s\n", q)
	}
	fmt.Fprintln(r.out, "Type /help for commands.")

	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		quit, err := r.handle(line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.ask(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, r.session.NewChat(r.ctx)
	case "/help":
		fmt.Fprint(r.out, replHelp)
	case "/new":
		if err := r.session.NewChat(r.ctx); err != nil {
			return false, err
		}
		r.pending = nil
		r.session.SetDocumentText("")
		fmt.Fprintln(r.out, "Started a new conversation.")
	case "/history":
		return false, r.listHistory()
	case "/load":
		return false, r.load(arg)
	case "/clear":
		if err := r.history.Clear(r.ctx); err != nil {
			return false, err
		}
		r.listed = nil
		fmt.Fprintln(r.out, "History cleared.")
	case "/upload":
		return false, r.upload(arg)
	default:
		fmt.Fprintf(r.out, "Unknown command %s\n", cmd)
		fmt.Fprint(r.out, replHelp)
	}
	return false, nil
}

func (r *repl) ask(text string) error {
	r.mu.Lock()
	r.typing = false
	r.turnErr = nil
	r.mu.Unlock()

	if err := r.session.Submit(r.ctx, text, r.pending...); err != nil {
		return err
	}
	r.pending = nil
	if err := r.session.Wait(r.ctx); err != nil {
		return err
	}

	r.mu.Lock()
	turnErr := r.turnErr
	r.mu.Unlock()

	msgs := r.session.Messages()
	if len(msgs) == 0 {
		return nil
	}
	fmt.Fprintln(r.out, r.renderer.Answer(r.cache.Parse(msgs[len(msgs)-1].Content)))
	if turnErr != nil {
		fmt.Fprintf(r.out, "(%v)\n", turnErr)
	}
	return nil
}

func (r *repl) listHistory() error {
	entries, err := r.history.List(r.ctx)
	if err != nil {
		return err
	}
	r.listed = entries
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No saved conversations.")
		return nil
	}
	for i, e := range entries {
		fmt.Fprintf(r.out, "%d. %s (%s, %d messages)\n", i+1, e.Title, e.Timestamp.Format("Jan 2 15:04"), len(e.Messages))
	}
	return nil
}

func (r *repl) load(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("usage: /load N")
	}
	if r.listed == nil {
		if r.listed, err = r.history.List(r.ctx); err != nil {
			return err
		}
	}
	if n < 1 || n > len(r.listed) {
		return fmt.Errorf("no saved conversation %d", n)
	}

	entry := r.listed[n-1]
	if err := r.session.LoadHistory(r.ctx, entry.ID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Loaded %q.\n", entry.Title)
	for _, m := range r.session.Messages() {
		if m.Role == models.RoleUser {
			fmt.Fprintf(r.out, "> %s\n", m.Content)
			continue
		}
		fmt.Fprintln(r.out, r.renderer.Answer(r.cache.Parse(m.Content)))
	}
	return nil
}

func (r *repl) upload(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /upload PATH")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	resp, err := r.client.Upload(r.ctx, path, data)
	if err != nil {
		return err
	}
	r.pending = append(r.pending, resp.Attachment)
	if resp.DocumentText != "" {
		r.session.SetDocumentText(resp.DocumentText)
	}
	fmt.Fprintln(r.out, resp.Message)
	return nil
}
