package relay

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Desarso/taxassist/extract"
	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/models/scripted"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type sseFrame struct {
	Event string
	Data  map[string]any
}

func parseSSE(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &cur.Data))
		}
	}
	if cur.Event != "" {
		frames = append(frames, cur)
	}
	return frames
}

func newTestRouter(m models.Model) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(m).WithLogger(log.New(io.Discard, "", 0))
	h.Register(r)
	return r, h
}

func postChat(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChat_StreamsProseInOrder(t *testing.T) {
	m := &scripted.Scripted_Model{ChunkSize: 7}
	r, _ := newTestRouter(m)

	w := postChat(r, `{"messages":[{"role":"user","content":"What's the standard deduction for 2024?"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	frames := parseSSE(t, w.Body)
	require.NotEmpty(t, frames)
	var text strings.Builder
	for _, f := range frames[:len(frames)-1] {
		require.Equal(t, EventDelta, f.Event)
		text.WriteString(f.Data["text"].(string))
	}
	last := frames[len(frames)-1]
	require.Equal(t, EventDone, last.Event)
	require.Equal(t, "stop", last.Data["finish_reason"])

	blocks := extract.Parse(text.String())
	require.Nil(t, blocks.Table)
	require.Nil(t, blocks.Chart)
	require.NotEmpty(t, blocks.Prose)
}

func TestChat_IncomeBreakdownBlocks(t *testing.T) {
	r, _ := newTestRouter(&scripted.Scripted_Model{ChunkSize: 11})
	w := postChat(r, `{"messages":[{"role":"user","content":"Break down the tax on my income of $85,000"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var text strings.Builder
	for _, f := range parseSSE(t, w.Body) {
		if f.Event == EventDelta {
			text.WriteString(f.Data["text"].(string))
		}
	}
	blocks := extract.Parse(text.String())
	require.NotNil(t, blocks.Table)
	require.NotNil(t, blocks.Chart)
	require.Len(t, blocks.Table.Rows, 4)
	require.Len(t, blocks.Chart.Points, 3)
	require.Equal(t, 71150.0, blocks.Table.Rows[2].Amount)
	require.Equal(t, 5587.0, blocks.Chart.Points[2].Value)
}

func TestChat_PrependsExactlyOneSystemPrompt(t *testing.T) {
	m := &scripted.Scripted_Model{}
	r, _ := newTestRouter(m)
	w := postChat(r, `{"messages":[
		{"role":"system","content":"client supplied"},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":""},
		{"role":"user","content":"summarize my W-2"}
	],"document_text":"Box 1 Wages: 52,000"}`)
	require.Equal(t, http.StatusOK, w.Code)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	got := reqs[0]
	for _, marker := range []string{extract.TableStart, extract.TableEnd, extract.ChartStart, extract.ChartEnd} {
		require.Contains(t, got.System, marker)
	}
	require.Contains(t, got.System, "Box 1 Wages: 52,000")
	require.NotContains(t, got.System, "client supplied")
	require.Len(t, got.Messages, 2)
	for _, msg := range got.Messages {
		require.NotEqual(t, models.RoleSystem, msg.Role)
	}
}

func TestChat_TemplateHintsOptIn(t *testing.T) {
	m := &scripted.Scripted_Model{}
	r, h := newTestRouter(m)
	body := `{"messages":[{"role":"user","content":"How do tax brackets work?"}]}`

	postChat(r, body)
	h.WithTemplateHints(true)
	postChat(r, body)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	require.NotContains(t, reqs[0].System, "Total Income")
	require.Contains(t, reqs[1].System, "Here's a template to follow")
}

func TestChat_RejectsInvalidRequests(t *testing.T) {
	m := &scripted.Scripted_Model{}
	r, _ := newTestRouter(m)

	cases := map[string]string{
		"not json":      `{"messages":`,
		"no messages":   `{"messages":[]}`,
		"bad role":      `{"messages":[{"role":"tool","content":"x"}]}`,
		"all blank":     `{"messages":[{"role":"user","content":"   "}]}`,
		"no user turn":  `{"messages":[{"role":"assistant","content":"hello"}]}`,
		"only system":   `{"messages":[{"role":"system","content":"hello"}]}`,
	}
	for name, body := range cases {
		w := postChat(r, body)
		require.Equal(t, http.StatusBadRequest, w.Code, name)
		require.Contains(t, w.Body.String(), `"error"`, name)
	}

	var many []models.Message
	for i := 0; i <= MaxMessageCount; i++ {
		many = append(many, models.Message{Role: models.RoleUser, Content: "q"})
	}
	data, _ := json.Marshal(models.Chat_Request{Messages: many})
	w := postChat(r, string(data))
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Empty(t, m.Requests(), "model must not be called for invalid requests")
}

func TestChat_RejectsOversizedBody(t *testing.T) {
	r, _ := newTestRouter(&scripted.Scripted_Model{})
	big := strings.Repeat("a", MaxRequestBodySize)
	w := postChat(r, `{"messages":[{"role":"user","content":"`+big+`"}]}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestChat_FailureBeforeFirstChunkIs502(t *testing.T) {
	r, _ := newTestRouter(&scripted.Scripted_Model{FailBefore: errors.New("invalid api key")})
	w := postChat(r, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "invalid api key")
}

func TestChat_FailureMidStreamIsErrorFrame(t *testing.T) {
	m := &scripted.Scripted_Model{Answer: "partial answer text", ChunkSize: 4, FailAfter: errors.New("connection reset"), FailAfterChunks: 2}
	r, _ := newTestRouter(m)
	w := postChat(r, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	frames := parseSSE(t, w.Body)
	require.Len(t, frames, 3)
	require.Equal(t, EventDelta, frames[0].Event)
	require.Equal(t, EventDelta, frames[1].Event)
	require.Equal(t, EventError, frames[2].Event)
	require.Contains(t, frames[2].Data["error"], "connection reset")
	for _, f := range frames {
		require.NotEqual(t, EventDone, f.Event)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	p := BuildSystemPrompt("", "income question", false)
	require.Equal(t, SystemPrompt, p)
	p = BuildSystemPrompt("doc body", "income question", true)
	require.Contains(t, p, "<document>\ndoc body\n</document>")
	require.Contains(t, p, models.IncomeBreakdownAnswer)
	require.True(t, WantsTemplate("What are the TAX BRACKETS?"))
	require.False(t, WantsTemplate("standard deduction"))
}
