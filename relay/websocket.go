package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Desarso/taxassist/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var errBusy = errors.New("a response is already streaming on this connection")

// ChatWS serves the relay over a WebSocket. Each text message is a chat
// request; the reply is a sequence of delta frames closed by a done or an
// error frame. One turn streams at a time per connection: a request that
// arrives mid-turn is dropped with a busy frame and never queued.
func (h *Handler) ChatWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxRequestBodySize)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	writer := &WebSocketWriter{Conn: conn, Logger: h.Logger}
	requests := make(chan models.Chat_Request)

	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.Logger.Printf("WebSocket read error: %v", err)
				}
				return
			}
			if !writer.claim() {
				h.Logger.Printf("Rejected request while a turn is streaming")
				_ = writer.WriteBusy(errBusy)
				continue
			}
			var req models.Chat_Request
			if err := json.Unmarshal(data, &req); err != nil {
				_ = writer.WriteError(err)
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	h.Logger.Printf("WebSocket session opened from %s", c.ClientIP())
	for {
		select {
		case <-ctx.Done():
			h.Logger.Printf("WebSocket session closed")
			return
		case req := <-requests:
			h.serveTurn(ctx, req, writer)
		}
	}
}

func (h *Handler) serveTurn(ctx context.Context, req models.Chat_Request, writer *WebSocketWriter) {
	modelReq, err := BuildModelRequest(req, h.TemplateHints)
	if err != nil {
		_ = writer.WriteError(err)
		return
	}
	writer.reset()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	respChan, errChan := h.Model.Stream_Model_Request(turnCtx, modelReq)
	first, err := awaitFirst(turnCtx, respChan, errChan)
	switch {
	case errors.Is(err, errStreamClosed):
		_ = writer.WriteDone("stop")
		return
	case err != nil:
		if turnCtx.Err() == nil {
			h.Logger.Printf("Model failed before streaming: %v", err)
			_ = writer.WriteError(err)
		}
		return
	}
	if err := h.relay(turnCtx, first, respChan, errChan, writer); err != nil {
		h.Logger.Printf("WebSocket turn ended with error after %v: %v", time.Since(start), err)
	}
}
