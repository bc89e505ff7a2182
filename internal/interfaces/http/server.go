package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/auth"
	"github.com/fumbled/jeetboard/internal/telemetry/metrics"
)

// Server is the JSON API surface in front of the analysis core.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	jwt      auth.JWT
	prom     *metrics.Registry
	config   ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 25 * time.Second,
	}
}

// NewServer creates an HTTP server over the given handlers. wsHandler may be
// nil when the websocket hub is disabled.
func NewServer(config ServerConfig, handlers *Handlers, jwt auth.JWT, prom *metrics.Registry, wsHandler http.Handler) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		jwt:      jwt,
		prom:     prom,
		config:   config,
	}
	s.setupRoutes(wsHandler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes(wsHandler http.Handler) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	if s.prom != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.prom.Prometheus(), promhttp.HandlerOpts{})).Methods("GET")
	}
	if wsHandler != nil {
		s.router.Handle("/ws", wsHandler)
	}

	// Public reads.
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.HandleFunc("/leaderboard/{timeframe}", s.handlers.Leaderboard).Methods("GET")
	api.HandleFunc("/wallets/{address}/fumbles", s.handlers.WalletFumbles).Methods("GET")
	api.HandleFunc("/users/{id}/rank/{timeframe}", s.handlers.UserRank).Methods("GET")

	// Authenticated wallet and profile management.
	me := s.router.PathPrefix("/me").Subrouter()
	me.Use(s.jsonContentTypeMiddleware)
	me.Use(auth.Middleware(s.jwt))
	me.HandleFunc("", s.handlers.Profile).Methods("GET")
	me.HandleFunc("/prefs", s.handlers.UpdatePrefs).Methods("PUT")
	me.HandleFunc("/wallets", s.handlers.ListWallets).Methods("GET")
	me.HandleFunc("/wallets", s.handlers.AddWallet).Methods("POST")
	me.HandleFunc("/wallets/{address}", s.handlers.UpdateWallet).Methods("PUT")
	me.HandleFunc("/wallets/{address}", s.handlers.RemoveWallet).Methods("DELETE")

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket connections outlive the request timeout.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.GetAddress()).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the bind address.
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

type ctxKey int

const requestIDKey ctxKey = 1

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
