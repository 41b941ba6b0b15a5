package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

func (r *eventRecorder) handle(ev models.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []models.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StreamEvent(nil), r.events...)
}

func TestStreamParsesFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"connected\",\"message\":\"ride feed connected\"}\n\n")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "data: {\"operation\":\"insert\",\"ride\":{\"id\":\"r1\",\"type\":\"offering\",\"user_id\":\"u1\"}}\n\n")
		fmt.Fprint(w, "data: not json at all\n\n")
		fmt.Fprint(w, "data: {\"operation\":\"delete\",\"rideId\":\"r1\"}\n\n")
	}))
	defer ts.Close()

	rec := &eventRecorder{}
	s := &Stream{URL: ts.URL, Logger: discardLogger(), Handler: rec.handle, Attempts: 0, Backoff: time.Millisecond}

	require.NoError(t, s.Run(context.Background()))

	evs := rec.snapshot()
	require.Len(t, evs, 3, "malformed frame skipped, comments ignored")
	assert.Equal(t, models.EventConnected, evs[0].Kind)
	assert.Equal(t, models.EventInsert, evs[1].Kind)
	assert.Equal(t, "r1", evs[1].Ride.ID)
	assert.Equal(t, models.EventDelete, evs[2].Kind)
	assert.Equal(t, "r1", evs[2].RideID)
}

func TestStreamMultiLineData(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"operation\":\"delete\",\n")
		fmt.Fprint(w, "data: \"rideId\":\"r9\"}\n\n")
	}))
	defer ts.Close()

	rec := &eventRecorder{}
	s := &Stream{URL: ts.URL, Logger: discardLogger(), Handler: rec.handle, Attempts: 0, Backoff: time.Millisecond}
	require.NoError(t, s.Run(context.Background()))

	evs := rec.snapshot()
	require.Len(t, evs, 1)
	assert.Equal(t, "r9", evs[0].RideID)
}

func TestStreamReconnectBudgetIsBounded(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	s := &Stream{URL: ts.URL, Logger: discardLogger(), Attempts: 5, Backoff: time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err, "exhausting the budget degrades silently")
	case <-time.After(5 * time.Second):
		t.Fatal("stream kept retrying past its budget")
	}
	// first connect plus five retries
	assert.Equal(t, int32(6), hits.Load())
}

func TestStreamBudgetResetsOnConnect(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= 2 {
			// connections that acknowledge then drop reset the budget
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	s := &Stream{URL: ts.URL, Logger: discardLogger(), Attempts: 2, Backoff: time.Millisecond}
	require.NoError(t, s.Run(context.Background()))

	// two acknowledged connects, then the full budget of two failures
	// before giving up
	assert.Equal(t, int32(4), hits.Load())
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{URL: ts.URL, Logger: discardLogger(), Attempts: 5, Backoff: time.Second}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestStreamSendsBearerToken(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	}))
	defer ts.Close()

	s := &Stream{URL: ts.URL, Token: "tok-123", Logger: discardLogger(), Attempts: 0, Backoff: time.Millisecond}
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, "Bearer tok-123", got)
}
