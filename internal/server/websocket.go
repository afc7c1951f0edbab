package server

import (
	"clipd/internal/protocol"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The HTTP server binds to localhost only.
		return true
	},
}

// serveWs upgrades a subscriber connection over websocket. The protocol
// is the same JSON envelope surface as the unix socket, one envelope per
// websocket message instead of length framing.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Register()
	defer s.hub.Unregister(sub)

	// Tie the session to the server lifetime, not just the request: the
	// write pump must stop on daemon shutdown too.
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	replies := make(chan []byte, 16)
	go s.wsWritePump(ctx, conn, sub.C(), replies)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.reply(ctx, replies, protocol.ErrorResponse("malformed request"))
			continue
		}
		s.reply(ctx, replies, s.handleRequest(ctx, &req))
	}
}

func (s *Server) wsWritePump(ctx context.Context, conn *websocket.Conn, events <-chan []byte, replies <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case message, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				return
			}
		case message := <-replies:
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				return
			}
		}
	}
}
