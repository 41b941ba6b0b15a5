package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/cache"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/observability"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/storage"
)

// Sink is the transport half of one stream connection. The SSE handler and
// the WebSocket handler both implement it over the same bridge.
type Sink interface {
	Send(ev models.StreamEvent) error
	Comment(text string) error
}

// Bridge converts one client's view of the ride change feed into normalized
// stream events: raw store notifications resolved and enriched with the
// owner's profile summary, plus a clock-driven expiry sweep. One Bridge.Run
// per connection; all per-connection state lives in the Run frame and is
// released when it returns.
type Bridge struct {
	Store     storage.RideStore
	Profiles  cache.ProfileCache
	Logger    *slog.Logger
	Heartbeat time.Duration
	Sweep     time.Duration

	// Now is a clock hook for tests.
	Now func() time.Time
}

func (b *Bridge) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Run drives the connection until ctx is canceled (client went away), the
// underlying subscription fails, or the sink rejects a write. Subscription
// failures surface to the client as a generic error frame, never the store
// error itself; recovery is the client's reconnect.
func (b *Bridge) Run(ctx context.Context, sink Sink) error {
	sub, err := b.Store.Subscribe(ctx)
	if err != nil {
		b.Logger.Error("feed subscribe failed", "error", err)
		_ = sink.Send(models.StreamEvent{Kind: models.EventError, Message: "stream unavailable"})
		return err
	}
	defer sub.Close()

	observability.StreamsConnected.Inc()
	defer observability.StreamsConnected.Dec()

	if err := sink.Send(models.StreamEvent{Kind: models.EventConnected, Message: "ride feed connected"}); err != nil {
		return err
	}

	heartbeat := time.NewTicker(b.Heartbeat)
	defer heartbeat.Stop()
	sweep := time.NewTicker(b.Sweep)
	defer sweep.Stop()

	// Session-local expiry dedup. Dropped with the connection: a reconnect
	// may re-notify the same ride, which clients absorb idempotently.
	notified := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := sink.Comment("heartbeat"); err != nil {
				return err
			}
		case <-sweep.C:
			if err := b.runSweep(ctx, sink, notified); err != nil {
				return err
			}
		case c, ok := <-sub.Events():
			if !ok {
				b.Logger.Error("feed subscription ended", "error", sub.Err())
				_ = sink.Send(models.StreamEvent{Kind: models.EventError, Message: "stream interrupted"})
				return sub.Err()
			}
			if err := b.handleChange(ctx, sink, c); err != nil {
				return err
			}
		}
	}
}

// handleChange turns a raw store notification into a stream event. Returned
// errors are sink failures only; resolution failures drop the event (a later
// update for the same ride self-heals, and clients reconcile over REST).
func (b *Bridge) handleChange(ctx context.Context, sink Sink, c storage.Change) error {
	if c.Op == storage.OpDelete {
		// no document exists to fetch for deletes
		observability.StreamEventsTotal.WithLabelValues("delete").Inc()
		return sink.Send(models.StreamEvent{Kind: models.EventDelete, RideID: c.RideID})
	}

	ride := c.Ride
	if ride == nil {
		var err error
		ride, err = b.Store.GetRide(ctx, c.RideID)
		if err != nil {
			observability.StreamEventsDropped.Inc()
			b.Logger.Warn("dropping change, resolution failed", "ride_id", c.RideID, "op", string(c.Op), "error", err)
			return nil
		}
	}
	b.attachProfile(ctx, ride)

	kind := models.EventInsert
	if c.Op == storage.OpUpdate {
		kind = models.EventUpdate
	}
	observability.StreamEventsTotal.WithLabelValues(string(kind)).Inc()
	return sink.Send(models.StreamEvent{Kind: kind, Ride: ride})
}

func (b *Bridge) runSweep(ctx context.Context, sink Sink, notified map[string]struct{}) error {
	expired, err := b.Store.ExpiredRides(ctx, b.now())
	if err != nil {
		b.Logger.Warn("expiry sweep query failed", "error", err)
		return nil
	}
	for _, ride := range expired {
		if _, seen := notified[ride.ID]; seen {
			continue
		}
		if ride.Profiles != nil && ride.Profiles.DisableAutoExpiry {
			continue
		}
		b.attachProfile(ctx, ride)
		observability.SweepExpiredFound.Inc()
		observability.StreamEventsTotal.WithLabelValues("expire").Inc()
		if err := sink.Send(models.StreamEvent{Kind: models.EventExpire, Ride: ride}); err != nil {
			return err
		}
		notified[ride.ID] = struct{}{}
	}
	return nil
}

// attachProfile fills in the owner summary, cache first. A missing or failed
// lookup leaves Profiles nil; the shape allows it and clients handle it.
func (b *Bridge) attachProfile(ctx context.Context, ride *models.Ride) {
	if ride.Profiles != nil {
		return
	}
	if b.Profiles != nil {
		if p, ok := b.Profiles.Get(ctx, ride.UserID); ok {
			ride.Profiles = p
			return
		}
	}
	p, err := b.Store.GetProfile(ctx, ride.UserID)
	if err != nil {
		b.Logger.Debug("profile lookup failed", "user_id", ride.UserID, "error", err)
		return
	}
	ride.Profiles = p
	if b.Profiles != nil {
		b.Profiles.Set(ctx, ride.UserID, p)
	}
}
