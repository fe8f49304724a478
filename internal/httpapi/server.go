package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/Linhhh07/Iot/internal/reconcile"
	"github.com/Linhhh07/Iot/internal/store"
)

const displayLayout = "2006-01-02 15:04:05"

type Queries interface {
	Ping(ctx context.Context) error
	LastDeviceState(ctx context.Context, name string) (*store.DeviceStatus, error)
	LatestDeviceStates(ctx context.Context, window *store.TimeWindow) ([]store.DeviceStatus, error)
	SearchSensors(ctx context.Context, q store.SensorQuery) (store.Page[store.SensorReading], error)
	DeviceHistory(ctx context.Context, q store.HistoryQuery) (store.Page[store.DeviceStatus], error)
}

type Commander interface {
	Toggle(ctx context.Context, deviceID, action string) (reconcile.CommandResult, error)
}

type Options struct {
	Queries   Queries
	Commander Commander
	// Realtime serves the websocket endpoint; nil disables it.
	Realtime http.Handler
	// Metrics serves /metrics; nil disables it.
	Metrics http.Handler
	// Middleware runs inside the router, after the built-in stack.
	Middleware  []func(http.Handler) http.Handler
	StaticDir   string
	Location    *time.Location
	CORSOrigins []string
}

type Server struct {
	queries   Queries
	commander Commander
	loc       *time.Location
	opts      Options
}

func New(o Options) *Server {
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Server{queries: o.Queries, commander: o.Commander, loc: loc, opts: o}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationID)
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))
	for _, mw := range s.opts.Middleware {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}
	if s.opts.Realtime != nil {
		r.Get("/ws", s.opts.Realtime.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sensors/search", s.handleSensorSearch)
		r.Get("/devices", s.handleDevicesLatest)
		r.Get("/devices/history/{device}", s.handleDeviceHistory)
		r.Get("/devices/{id}/status", s.handleDeviceStatus)
		r.Post("/devices/{id}/toggle", s.handleToggle)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
	})

	if dir := strings.TrimSpace(s.opts.StaticDir); dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return r
}

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Correlation-ID")
		if corrID == "" {
			corrID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corrID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.queries.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}
