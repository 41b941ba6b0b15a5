package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// handleRideStream serves the feed as text/event-stream. The request context
// is the only cancellation signal: when the client goes away the bridge
// returns and releases its subscription and timers with it.
func (s *Server) handleRideStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	if err := s.newBridge().Run(r.Context(), sink); err != nil {
		s.logger.Debug("stream ended", "error", err)
	}
}

type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(ev models.StreamEvent) error {
	b, err := ev.MarshalFrame()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

var upgrader = websocket.Upgrader{
	// same-origin policy is enforced upstream; the feed is read-only
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleFeedWS mirrors the SSE feed over a websocket for clients behind
// proxies that buffer event streams. Frames are the same JSON payloads.
func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the feed is one-way; the read pump only detects disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	if err := s.newBridge().Run(ctx, sink); err != nil {
		s.logger.Debug("ws feed ended", "error", err)
	}
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ev models.StreamEvent) error {
	b, err := ev.MarshalFrame()
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *wsSink) Comment(text string) error {
	return s.conn.WriteControl(websocket.PingMessage, []byte(text), time.Now().Add(5*time.Second))
}
