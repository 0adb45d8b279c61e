package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"papertrade/internal/ingest"
	"papertrade/internal/ledger"
	"papertrade/internal/store"
)

// Server holds the HTTP server dependencies.
type Server struct {
	ledger *ledger.Ledger
	snaps  store.Snapshotter
	nc     *nats.Conn
	pub    *ingest.Publisher
}

// NewServer creates a new API server. snaps, nc and pub may be nil.
func NewServer(l *ledger.Ledger, snaps store.Snapshotter, nc *nats.Conn, pub *ingest.Publisher) *Server {
	return &Server{ledger: l, snaps: snaps, nc: nc, pub: pub}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.MethodNotAllowed(methodNotAllowed)

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/account", s.handleAccount)
		r.Post("/balance", s.handleSetBalance)

		r.Get("/positions", s.handleListPositions)
		r.Post("/positions", s.handleOpenPosition)
		r.Post("/positions/{positionId}/close", s.handleClosePosition)

		r.Get("/orders", s.handleListOrders)
		r.Post("/orders", s.handlePlaceOrder)
		r.Post("/orders/{orderId}/cancel", s.handleCancelOrder)

		r.Get("/history", s.handleListHistory)

		r.Get("/market", s.handleMarket)
		r.Post("/market/pair", s.handleSelectPair)
		r.Post("/market/mark-price", s.handleSetMarkPrice)

		r.Get("/snapshot", s.handleExportSnapshot)
		r.Post("/snapshot/import", s.handleImportSnapshot)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "Method Not Allowed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
