// Package api exposes the inference engine over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/alert"
	"github.com/hed1ad/netguard/pkg/inference"
	"github.com/hed1ad/netguard/pkg/store"
)

// DefaultMaxBatchEvents caps the events accepted by one detect request.
const DefaultMaxBatchEvents = 10000

// Server routes HTTP requests to the inference engine.
type Server struct {
	engine    *inference.Engine
	store     *store.Store
	publisher alert.Publisher
	registry  *prometheus.Registry
	logger    *zap.Logger
	maxBatch  int
	router    *mux.Router
	requests  *prometheus.CounterVec
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists detected anomalies and enables the recent route.
func WithStore(s *store.Store) Option {
	return func(srv *Server) {
		srv.store = s
	}
}

// WithPublisher publishes detected anomalies.
func WithPublisher(p alert.Publisher) Option {
	return func(srv *Server) {
		srv.publisher = p
	}
}

// WithRegistry registers request metrics with reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(srv *Server) {
		srv.registry = reg
	}
}

// WithMaxBatchEvents caps the events accepted by one detect request.
func WithMaxBatchEvents(n int) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxBatch = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// NewServer creates a server for engine.
func NewServer(engine *inference.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		logger:   zap.NewNop(),
		maxBatch: DefaultMaxBatchEvents,
		router:   mux.NewRouter(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.requests = promauto.With(s.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netguard",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/anomaly/detect", s.handleDetect).Methods(http.MethodPost)
	v1.HandleFunc("/anomaly/recent", s.handleRecent).Methods(http.MethodGet)
	v1.HandleFunc("/model", s.handleModelInfo).Methods(http.MethodGet)
	v1.HandleFunc("/model/reload", s.handleReload).Methods(http.MethodPost)
	v1.HandleFunc("/forecast/capacity", s.handleForecast).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
