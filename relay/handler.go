// Package relay serves the chat relay: it takes a full conversation, adds the
// TaxAssist system prompt and streams the completion model's raw output back.
package relay

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/Desarso/taxassist/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// errStreamClosed means the model ended without sending anything.
var errStreamClosed = errors.New("stream closed")

// Handler relays chat turns to a completion model.
type Handler struct {
	Model         models.Model
	Logger        *log.Logger
	TemplateHints bool

	upgrader websocket.Upgrader
}

func NewHandler(model models.Model) *Handler {
	return &Handler{
		Model:  model,
		Logger: log.New(os.Stderr, "[RELAY] ", log.LstdFlags),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WithTemplateHints enables the worked example for income questions.
func (h *Handler) WithTemplateHints(enabled bool) *Handler {
	h.TemplateHints = enabled
	return h
}

func (h *Handler) WithLogger(l *log.Logger) *Handler {
	if l != nil {
		h.Logger = l
	}
	return h
}

// Register mounts the relay routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/api/chat", h.Chat)
	r.GET("/api/chat/ws", h.ChatWS)
}

// Chat godoc
// @Summary Stream a chat completion
// @Accept json
// @Produce text/event-stream
// @Router /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)

	var req models.Chat_Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": ErrBodyTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	modelReq, err := BuildModelRequest(req, h.TemplateHints)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.Logger.Printf("Relaying %d messages (document: %v)", len(modelReq.Messages), req.Document_Text != "")
	respChan, errChan := h.Model.Stream_Model_Request(ctx, modelReq)

	// Hold the response until the model produced something so an early
	// failure can still be reported with a status code.
	first, err := awaitFirst(ctx, respChan, errChan)
	if err != nil && !errors.Is(err, errStreamClosed) {
		if ctx.Err() != nil {
			h.Logger.Printf("Client went away before the first chunk")
			return
		}
		h.Logger.Printf("Model failed before streaming: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "completion model unavailable: " + err.Error()})
		return
	}

	writer := &GinSSEWriter{Context: c}
	writer.Begin()
	c.Status(http.StatusOK)

	if errors.Is(err, errStreamClosed) {
		h.Logger.Printf("Model returned an empty stream")
		_ = writer.WriteDone("stop")
		return
	}
	if err := h.relay(ctx, first, respChan, errChan, writer); err != nil {
		h.Logger.Printf("Relay ended with error: %v", err)
	}
}

// awaitFirst blocks until the first chunk, the first error, the end of the
// stream (errStreamClosed) or ctx is done.
func awaitFirst(ctx context.Context, respChan <-chan models.Model_Response, errChan <-chan error) (models.Model_Response, error) {
	for respChan != nil || errChan != nil {
		select {
		case resp, ok := <-respChan:
			if !ok {
				respChan = nil
				continue
			}
			return resp, nil
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			if err != nil {
				return models.Model_Response{}, err
			}
		case <-ctx.Done():
			return models.Model_Response{}, ctx.Err()
		}
	}
	return models.Model_Response{}, errStreamClosed
}

// relay forwards first and the rest of the stream to w in arrival order and
// terminates it with a done or an error frame.
func (h *Handler) relay(ctx context.Context, first models.Model_Response, respChan <-chan models.Model_Response, errChan <-chan error, w StreamWriter) error {
	finish := ""
	chunks := 0
	forward := func(resp models.Model_Response) error {
		if resp.FinishReason != "" {
			finish = resp.FinishReason
		}
		if resp.Text == "" {
			return nil
		}
		chunks++
		return w.WriteDelta(resp.Text)
	}

	err := forward(first)
	if err == nil {
		err = models.Consume(ctx, respChan, errChan, forward)
	}
	if err != nil {
		if ctx.Err() != nil {
			h.Logger.Printf("Client disconnected after %d chunks", chunks)
			return ctx.Err()
		}
		h.Logger.Printf("Stream error after %d chunks: %v", chunks, err)
		if writeErr := w.WriteError(err); writeErr != nil {
			h.Logger.Printf("Error writing error frame: %v", writeErr)
		}
		return err
	}

	if finish == "" {
		finish = "stop"
	}
	h.Logger.Printf("Stream finished: %d chunks (%s)", chunks, finish)
	return w.WriteDone(finish)
}
