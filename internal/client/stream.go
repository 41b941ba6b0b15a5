package client

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// Stream consumes the text/event-stream feed and hands parsed events to a
// handler. Reconnection is bounded: after Attempts consecutive failures it
// gives up silently and the caller keeps working on REST refetches alone.
type Stream struct {
	URL     string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger
	Handler func(models.StreamEvent)

	// Attempts bounds consecutive failed connects; Backoff is the fixed
	// delay between them. A successful connect (a connected frame arrives)
	// resets the budget.
	Attempts int
	Backoff  time.Duration
}

// Run blocks until ctx is canceled or the reconnect budget is spent. Only
// ctx cancellation is reported as an error; exhausting the budget is the
// designed silent degradation.
func (s *Stream) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}
		attempts++
		if attempts > s.Attempts {
			s.Logger.Warn("stream reconnect budget spent, degrading to REST-only refresh")
			return nil
		}
		s.Logger.Info("stream disconnected, retrying", "attempt", attempts, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Backoff):
		}
	}
}

// consume runs one connection to completion. It reports whether the server
// acknowledged the connection, which resets the reconnect budget.
func (s *Stream) consume(ctx context.Context) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	httpc := s.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.dispatch(data.String(), &connected)
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat comment, keepalive only
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if data.Len() > 0 {
		s.dispatch(data.String(), &connected)
	}
	return connected, scanner.Err()
}

// dispatch parses one frame. Malformed frames are logged and skipped without
// tearing the connection down; the stream self-heals through later events.
func (s *Stream) dispatch(payload string, connected *bool) {
	ev, err := models.ParseStreamEvent([]byte(payload))
	if err != nil {
		s.Logger.Warn("skipping malformed frame", "error", err)
		return
	}
	if ev.Kind == models.EventConnected {
		*connected = true
	}
	if s.Handler != nil {
		s.Handler(ev)
	}
}
