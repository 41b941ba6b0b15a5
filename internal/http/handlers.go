package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/cache"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/config"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/feed"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/ingest"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/storage"
)

type Server struct {
	cfg      config.ServerConfig
	store    storage.RideStore
	profiles cache.ProfileCache
	producer *ingest.EventProducer // nil when kafka is unconfigured
	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func New(cfg config.ServerConfig, logger *slog.Logger, store storage.RideStore, profiles cache.ProfileCache, producer *ingest.EventProducer) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		profiles: profiles,
		producer: producer,
		logger:   logger,
		validate: validator.New(),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides", s.requireUser(s.handleCreateRide)).Methods("POST")
	api.HandleFunc("/rides/stream", s.handleRideStream).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}", s.requireUser(s.handleUpdateRide)).Methods("PUT")
	api.HandleFunc("/rides/{id}", s.requireUser(s.handleDeleteRide)).Methods("DELETE")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("/feed", s.handleFeedWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) newBridge() *feed.Bridge {
	return &feed.Bridge{
		Store:     s.store,
		Profiles:  s.profiles,
		Logger:    s.logger,
		Heartbeat: s.cfg.HeartbeatInterval,
		Sweep:     s.cfg.SweepInterval,
	}
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()
	q := storage.ListQuery{
		Search:    qp.Get("search"),
		Community: qp.Get("community"),
		Type:      qp.Get("type"),
		SortBy:    qp.Get("sort"),
		Now:       time.Now(),
	}
	if qp.Get("mine") == "true" {
		uid, ok := currentUser(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		q.OwnerID = uid
		q.All = true // owners see their archived/expired rides too
	}
	rides, err := s.store.ListRides(r.Context(), q)
	if err != nil {
		s.logger.Error("list rides failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	if err != nil {
		s.logger.Error("get ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.attachProfile(r, ride)
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUser(r.Context())
	var in models.RideInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	now := time.Now()
	ride := &models.Ride{
		ID:        uuid.NewString(),
		UserID:    uid,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: models.DefaultExpiry(in, now),
	}
	in.ApplyTo(ride)
	if err := s.store.CreateRide(r.Context(), ride); err != nil {
		s.logger.Error("create ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.attachProfile(r, ride)
	s.publish(models.StreamEvent{Kind: models.EventInsert, Ride: ride})
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleUpdateRide(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUser(r.Context())
	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	if err != nil {
		s.logger.Error("get ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ride.UserID != uid {
		writeError(w, http.StatusForbidden, "not your ride")
		return
	}
	var in models.RideInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	in.ApplyTo(ride)
	ride.UpdatedAt = time.Now()
	if err := s.store.UpdateRide(r.Context(), ride); err != nil {
		s.logger.Error("update ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.attachProfile(r, ride)
	s.publish(models.StreamEvent{Kind: models.EventUpdate, Ride: ride})
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDeleteRide(w http.ResponseWriter, r *http.Request) {
	uid, _ := currentUser(r.Context())
	id := mux.Vars(r)["id"]
	ride, err := s.store.GetRide(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	if err != nil {
		s.logger.Error("get ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ride.UserID != uid {
		writeError(w, http.StatusForbidden, "not your ride")
		return
	}
	if err := s.store.DeleteRide(r.Context(), id); err != nil {
		s.logger.Error("delete ride failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.publish(models.StreamEvent{Kind: models.EventDelete, RideID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) attachProfile(r *http.Request, ride *models.Ride) {
	if ride.Profiles != nil {
		return
	}
	if p, err := s.store.GetProfile(r.Context(), ride.UserID); err == nil {
		ride.Profiles = p
	}
}

// publish mirrors every confirmed mutation onto the kafka topic; the SSE
// stream is fed by the store's own change feed, not by this.
func (s *Server) publish(ev models.StreamEvent) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ev); err != nil {
		s.logger.Warn("ride event publish failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
