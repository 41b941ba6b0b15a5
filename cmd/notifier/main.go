// notifier is the backend half of ride lifecycle notifications: it tails the
// ride-events topic for created/updated/deleted rides and runs the archival
// sweep that turns passed expiry instants into real is_archived writes.
// Expiry notifications are deduplicated in redis so restarts do not re-notify.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_consumed_total",
		Help: "Total ride events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_invalid_total",
		Help: "Total invalid events received",
	})
	expiryNotices = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_expiry_notices_total",
		Help: "Expiry notifications issued",
	})
	ridesArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_rides_archived_total",
		Help: "Expired rides flagged archived by the sweep",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, expiryNotices, ridesArchived)
}

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	var archiveGrace time.Duration
	flag.StringVar(&metricsAddr, "metrics-addr", ":2113", "address to serve prometheus metrics on")
	flag.DurationVar(&archiveGrace, "archive-grace", time.Hour, "how long after expiry before a ride is archived")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{"localhost:9092"}
	if brokersEnv != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-notifier"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})

	var store storage.RideStore
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		ps, err := storage.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
	} else {
		log.Printf("PG_DSN not set; sweep disabled, consuming events only")
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if store != nil {
		go runSweep(ctx, store, rc, archiveGrace)
	}

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := models.ParseStreamEvent(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}
		handleEvent(ev)
	}
}

// handleEvent is the hook where community/push fan-out plugs in; email and
// push delivery live in their own services, this just routes.
func handleEvent(ev models.StreamEvent) {
	switch ev.Kind {
	case models.EventInsert:
		log.Printf("ride posted id=%s route=%s->%s communities=%d",
			ev.Ride.ID, ev.Ride.StartLocation, ev.Ride.EndLocation, len(ev.Ride.CommunityIDs))
	case models.EventDelete:
		log.Printf("ride removed id=%s", ev.RideID)
	}
}

// runSweep is the process-wide counterpart of the per-connection stream
// sweep: it notifies each expired ride's owner once (redis SETNX dedup, so
// restarts stay quiet) and archives rides expired past the grace window.
func runSweep(ctx context.Context, store storage.RideStore, rc *redis.Client, grace time.Duration) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		now := time.Now()
		expired, err := store.ExpiredRides(ctx, now)
		if err != nil {
			log.Printf("sweep query error: %v", err)
			continue
		}
		for _, ride := range expired {
			ok, err := rc.SetNX(ctx, "expiry-notified:"+ride.ID, "1", 48*time.Hour).Result()
			if err != nil {
				log.Printf("redis dedup error: %v", err)
				continue
			}
			if !ok {
				continue // already notified
			}
			expiryNotices.Inc()
			log.Printf("ride expired id=%s owner=%s route=%s->%s",
				ride.ID, ride.UserID, ride.StartLocation, ride.EndLocation)
		}
		n, err := store.ArchiveExpired(ctx, now.Add(-grace))
		if err != nil {
			log.Printf("archive error: %v", err)
			continue
		}
		if n > 0 {
			ridesArchived.Add(float64(n))
			log.Printf("archived %d expired rides", n)
		}
	}
}
