package relay

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Frame names shared by the SSE and WebSocket transports.
const (
	EventDelta = "delta"
	EventError = "error"
	EventDone  = "done"
	EventBusy  = "busy"
)

// StreamWriter delivers relay frames to one client.
type StreamWriter interface {
	WriteDelta(text string) error
	WriteError(err error) error
	WriteDone(finishReason string) error
}

// GinSSEWriter implements StreamWriter as Server-Sent Events on a gin context.
type GinSSEWriter struct {
	Context *gin.Context
}

// Begin sets the SSE headers. Nothing is sent until the first frame.
func (w *GinSSEWriter) Begin() {
	w.Context.Header("Content-Type", "text/event-stream")
	w.Context.Header("Cache-Control", "no-cache")
	w.Context.Header("Connection", "keep-alive")
	w.Context.Header("X-Accel-Buffering", "no")
}

func (w *GinSSEWriter) write(event string, data any) error {
	w.Context.SSEvent(event, data)
	w.Context.Writer.Flush()
	return w.Context.Request.Context().Err()
}

func (w *GinSSEWriter) WriteDelta(text string) error {
	return w.write(EventDelta, gin.H{"text": text})
}

func (w *GinSSEWriter) WriteError(err error) error {
	return w.write(EventError, gin.H{"error": err.Error()})
}

func (w *GinSSEWriter) WriteDone(finishReason string) error {
	return w.write(EventDone, gin.H{"finish_reason": finishReason})
}

// WSFrame is one message of the WebSocket relay protocol.
type WSFrame struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	Error        string `json:"error,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// WebSocketWriter handles all WebSocket communication for one connection.
type WebSocketWriter struct {
	Conn             *websocket.Conn
	Logger           *log.Logger
	StartTime        time.Time
	FirstTokenLogged bool
	mu               sync.Mutex
	inFlight         atomic.Bool
}

// claim marks a turn as started. It reports false when one already is.
func (w *WebSocketWriter) claim() bool {
	return w.inFlight.CompareAndSwap(false, true)
}

func (w *WebSocketWriter) writeFrame(f WSFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(f)
}

func (w *WebSocketWriter) WriteDelta(text string) error {
	w.mu.Lock()
	if !w.FirstTokenLogged && !w.StartTime.IsZero() && w.Logger != nil {
		w.Logger.Printf("Time to first token: %v", time.Since(w.StartTime))
		w.FirstTokenLogged = true
	}
	w.mu.Unlock()
	return w.writeFrame(WSFrame{Type: EventDelta, Text: text})
}

// WriteError and WriteDone end the current turn. The turn is released
// before the frame goes out so a client answering the frame is never busy.
func (w *WebSocketWriter) WriteError(err error) error {
	w.inFlight.Store(false)
	return w.writeFrame(WSFrame{Type: EventError, Error: err.Error()})
}

func (w *WebSocketWriter) WriteDone(finishReason string) error {
	w.inFlight.Store(false)
	return w.writeFrame(WSFrame{Type: EventDone, FinishReason: finishReason})
}

// WriteBusy rejects a request sent while another turn streams. It does not
// end the turn in progress.
func (w *WebSocketWriter) WriteBusy(err error) error {
	return w.writeFrame(WSFrame{Type: EventBusy, Error: err.Error()})
}

// reset prepares the writer for the next turn on the same connection.
func (w *WebSocketWriter) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.StartTime = time.Now()
	w.FirstTokenLogged = false
}
