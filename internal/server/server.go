package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/workpump/internal/store"
	"github.com/jpalmerr/workpump/item"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// sseInitialLimit caps the non-terminal snapshot sent when a client connects.
	sseInitialLimit = 100

	// maxBodySize bounds request bodies, including item payloads.
	maxBodySize = 1 << 20

	defaultTitle = "workpump"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// Store is the item store as seen by the server: a [store.Store] that also
// publishes snapshots, such as [store.Broadcaster].
type Store interface {
	store.Store
	Subscribe() <-chan item.WorkItem
	Unsubscribe(ch <-chan item.WorkItem)
}

// Config holds optional server collaborators. Nil fields disable or default
// the matching feature.
type Config struct {
	Port   int
	Assets fs.FS
	Title  string
	Logger *slog.Logger

	// QueueDepth and InFlight feed /api/stats.
	QueueDepth func() int
	InFlight   func() int
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Ping backs /healthz; nil always reports ok.
	Ping func(ctx context.Context) error
	// InsertRate limits POST /api/items across all clients. Zero disables
	// the limit. InsertBurst defaults to 1.
	InsertRate  rate.Limit
	InsertBurst int
}

// Server handles HTTP requests for the dashboard and API.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      Store
	cfg        Config
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server]. It is not started until
// [Server.Start] is called.
func NewServer(st Store, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Title == "" {
		cfg.Title = defaultTitle
	}
	return &Server{store: st, cfg: cfg, logger: logger}
}

// Handler builds the chi router with middleware and all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(maxBodySize))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.With(s.insertRateLimit()).Post("/items", s.handleCreateItem)
		r.Get("/items/{id}", s.handleGetItem)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleSSE)
	})

	if s.cfg.Assets != nil {
		r.Get("/", s.handleDashboard)
	}
	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address after a successful Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// insertRateLimit returns a middleware that rejects inserts beyond the
// configured rate with 429.
func (s *Server) insertRateLimit() func(http.Handler) http.Handler {
	if s.cfg.InsertRate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := s.cfg.InsertBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(s.cfg.InsertRate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

type createItemRequest struct {
	Payload string `json:"payload"`
}

// handleCreateItem inserts a pending item. The poller admits it on a later
// cycle.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	it, err := s.store.Insert(r.Context(), req.Payload)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "insert item failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "insert failed")
		return
	}
	w.Header().Set("Location", "/api/items/"+it.ID.String())
	s.writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	it, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "get item failed", "item_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, it)
}

// Stats is the /api/stats response body. Pending counts every non-terminal
// item, queued or not.
type Stats struct {
	Pending    int `json:"pending"`
	Unqueued   int `json:"unqueued"`
	Queued     int `json:"queued"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	QueueDepth int `json:"queue_depth"`
	InFlight   int `json:"in_flight"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var stats Stats
	counts := []struct {
		dst *int
		f   store.Filter
	}{
		{&stats.Pending, store.NonTerminal},
		{&stats.Unqueued, store.Unqueued},
		{&stats.Queued, store.Filter{States: []item.State{item.StateQueued}}},
		{&stats.Processed, store.Filter{States: []item.State{item.StateProcessed}}},
		{&stats.Failed, store.Filter{States: []item.State{item.StateFailed}}},
	}
	for _, c := range counts {
		n, err := s.store.Count(ctx, c.f)
		if err != nil {
			s.logger.ErrorContext(ctx, "count items failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "count failed")
			return
		}
		*c.dst = n
	}
	if s.cfg.QueueDepth != nil {
		stats.QueueDepth = s.cfg.QueueDepth()
	}
	if s.cfg.InFlight != nil {
		stats.InFlight = s.cfg.InFlight()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ping != nil {
		if err := s.cfg.Ping(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "healthz: store ping failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Store: "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	safeTitle := html.EscapeString(s.cfg.Title)
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, safeTitle)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleSSE streams item snapshots via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the snapshot so no transition in between is missed
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	initial, err := s.store.Scan(r.Context(), store.NonTerminal, sseInitialLimit)
	if err != nil {
		s.logger.Warn("sse initial snapshot failed", "error", err)
	}
	for _, it := range initial {
		data, err := json.Marshal(it)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case it, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(it)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
