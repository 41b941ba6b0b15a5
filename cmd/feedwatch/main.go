// feedwatch tails the ride feed the way the web client does: an initial REST
// fetch, then streamed events merged into a reconciler view, with a periodic
// countdown refresh. Useful for watching feed convergence in production and
// as the reference consumer for the stream contract.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/client"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/config"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/logging"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/reconciler"
)

var (
	eventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_events_applied_total",
		Help: "Stream events merged into the local view",
	}, []string{"kind"})
	refetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_refetches_total",
		Help: "Full REST refetches performed",
	})
	visibleRides = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedwatch_visible_rides",
		Help: "Rides currently passing the view filter",
	})
)

func init() {
	prometheus.MustRegister(eventsApplied, refetches, visibleRides)
}

func main() {
	_ = godotenv.Load()

	var (
		filterType string
		community  string
		search     string
		verified   bool
		sortBy     string
	)
	flag.StringVar(&filterType, "type", "", "filter: offering or seeking")
	flag.StringVar(&community, "community", "", "filter: community id")
	flag.StringVar(&search, "search", "", "filter: location/description substring")
	flag.BoolVar(&verified, "verified", false, "filter: verified owners only")
	flag.StringVar(&sortBy, "sort", "newest", "sort: newest, oldest, date")
	flag.Parse()

	cfg, err := config.LoadWatcherConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewTextLogger(cfg.LogLevel)

	// metrics and health server, same shape as the API process
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filters := reconciler.Filters{
		Type:         filterType,
		Community:    community,
		Search:       search,
		VerifiedOnly: verified,
	}
	view := reconciler.NewView(filters, reconciler.SortBy(sortBy))
	rest := client.New(cfg.BaseURL, cfg.Token)

	refetch := func() {
		rides, err := rest.ListRides(ctx, client.ListOptions{
			Search: search, Community: community, Type: filterType, SortBy: sortBy,
		})
		if err != nil {
			logger.Warn("refetch failed", "error", err)
			return
		}
		view.SetData(rides)
		refetches.Inc()
		visibleRides.Set(float64(len(view.Visible())))
	}
	refetch()

	stream := &client.Stream{
		URL:      cfg.BaseURL + "/api/v1/rides/stream",
		Token:    cfg.Token,
		Logger:   logger,
		Attempts: cfg.ReconnectAttempts,
		Backoff:  cfg.ReconnectBackoff,
		Handler: func(ev models.StreamEvent) {
			view.Apply(ev)
			eventsApplied.WithLabelValues(string(ev.Kind)).Inc()
			visibleRides.Set(float64(len(view.Visible())))
			switch ev.Kind {
			case models.EventInsert, models.EventUpdate, models.EventExpire:
				logger.Info("merged", "kind", string(ev.Kind), "ride", ev.Ride.ID)
			case models.EventDelete:
				logger.Info("merged", "kind", "delete", "ride", ev.RideID)
			}
		},
	}

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		_ = stream.Run(ctx) // budget exhaustion degrades to refetch-only
	}()

	// countdown refresh per minute, full refetch every five: the push stream
	// is best-effort, REST remains the source of truth
	render := time.NewTicker(time.Minute)
	defer render.Stop()
	poll := time.NewTicker(5 * time.Minute)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			<-streamDone
			return
		case <-render.C:
			view.Refresh()
			renderFeed(logger, view)
		case <-poll.C:
			refetch()
		}
	}
}

func renderFeed(logger *slog.Logger, view *reconciler.View) {
	now := time.Now()
	for _, r := range view.Visible() {
		logger.Info("ride",
			"id", r.ID,
			"route", r.StartLocation+" -> "+r.EndLocation,
			"expires_in", r.TimeToExpiry(now).Round(time.Minute).String(),
		)
	}
}
