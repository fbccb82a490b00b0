// Package server exposes the sync engine to the register app over a
// localhost HTTP API plus a WebSocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tillsync-io/tillsync/internal/connectivity"
	"github.com/tillsync-io/tillsync/internal/events"
	"github.com/tillsync-io/tillsync/internal/logging"
	"github.com/tillsync-io/tillsync/internal/models"
	syncpkg "github.com/tillsync-io/tillsync/internal/sync"
	"github.com/tillsync-io/tillsync/internal/sync/queue"
	"github.com/tillsync-io/tillsync/internal/sync/scheduler"
)

const defaultAddr = "127.0.0.1:7345"

// Orchestrator is the engine surface the API serves.
type Orchestrator interface {
	SaveSaleReceipt(ctx context.Context, receipt *models.Receipt) error
	SaveCustomer(ctx context.Context, customer *models.Customer) error
	RunFullSync(ctx context.Context) (*syncpkg.RunResult, error)
	Status(ctx context.Context) (*syncpkg.Status, error)
	Syncing() bool
}

// Queue is the retry queue surface the API serves.
type Queue interface {
	List(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error)
	Retry(ctx context.Context, id models.UUID) error
	RetryAllFailed(ctx context.Context) (int, error)
	Cancel(ctx context.Context, id models.UUID) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// Monitor answers on-demand connectivity probes.
type Monitor interface {
	CheckNow(ctx context.Context) connectivity.State
}

// Scheduler reports background loop state for the composite status.
type Scheduler interface {
	Status() scheduler.Status
}

// CredentialStore persists the sealed backend credentials.
type CredentialStore interface {
	GetCredential() (*models.Credential, error)
	SetCredential(cred *models.Credential) error
}

// Backend is reconfigured live when the operator stores new credentials.
type Backend interface {
	Configure(baseURL, apiKey, apiSecret string)
	Configured() bool
	BaseURL() string
}

// Config holds server configuration.
type Config struct {
	Addr      string // listen address, loopback only
	MachineID string // seals credentials at rest
}

// Server is the daemon's HTTP and WebSocket surface.
type Server struct {
	addr      string
	machineID string

	orch    Orchestrator
	queue   Queue
	monitor Monitor
	sched   Scheduler
	creds   CredentialStore
	backend Backend

	hub  *WSHub
	http *http.Server
}

// NewServer wires the API over the given engine components. The event
// bus feeds the WebSocket hub; it may be nil in tests.
func NewServer(orch Orchestrator, q Queue, monitor Monitor, sched Scheduler, creds CredentialStore, backend Backend, bus *events.Bus, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	addr := config.Addr
	if addr == "" {
		addr = defaultAddr
	}

	s := &Server{
		addr:      addr,
		machineID: config.MachineID,
		orch:      orch,
		queue:     q,
		monitor:   monitor,
		sched:     sched,
		creds:     creds,
		backend:   backend,
		hub:       NewWSHub(bus),
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Post("/receipts", s.handleCreateReceipt)
		r.Post("/customers", s.handleCreateCustomer)

		r.Get("/queue", s.handleQueueList)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Post("/queue/retry-all", s.handleQueueRetryAll)
		r.Post("/queue/{id}/retry", s.handleQueueRetry)
		r.Post("/queue/{id}/cancel", s.handleQueueCancel)

		r.Post("/sync", s.handleSyncNow)
		r.Post("/connectivity/check", s.handleConnectivityCheck)

		r.Get("/credentials", s.handleGetCredentials)
		r.Post("/credentials", s.handleSetCredentials)
	})

	router.Get("/ws", s.hub.HandleWebSocket)

	return router
}

// Handler returns the router, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start begins serving. It blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.hub.Start()
	logging.Info("API server listening", map[string]interface{}{
		"addr": s.addr,
	})

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Close()
	logging.Info("API server stopped")
	return err
}

// requestLogger logs one line per request with its outcome.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Debug("Request handled", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}
