package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/gantryio/gantry/internal/provider"
)

// handleStream returns the handler for GET /v1/stream. The client upgrades
// to a WebSocket, sends one JSON-encoded request, and receives one frame per
// merged event. The connection closes after the stream ends.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Error("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req provider.Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = writeFrame(ctx, conn, streamFrame{
				Error: &frameError{Code: "BAD_REQUEST", Message: "invalid request: " + err.Error()},
			})
			_ = conn.Close(websocket.StatusUnsupportedData, "invalid request")
			return
		}

		events, err := s.generator.Generate(ctx, req)
		if err != nil {
			_ = writeFrame(ctx, conn, streamFrame{Error: errorFrame(err)})
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		for ev := range events {
			if werr := writeFrame(ctx, conn, frameFromEvent(ev)); werr != nil {
				// Client gone. Keep draining so the forwarder can settle.
				continue
			}
		}

		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// writeFrame marshals and sends one frame as a text message.
func writeFrame(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
