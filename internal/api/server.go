// Package api implements the request boundary of spec.md §4.10: the HTTP
// surface, its auth/CORS middleware chain, and the handlers that translate
// request bodies into calls on the scheduler, topology handler, budget
// guard, conflict monitor, execution provider, and notification bus.
//
// This package absorbs the role the teacher's internal/router package
// played (HTTP sub-multiplexing and handler wiring, see cmd/api/routes.go);
// that name was freed for the agent-routing decision procedure spec.md
// itself calls "the router" (internal/router).
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"golang.org/x/net/websocket"

	"github.com/inaiurai/orchestrator/internal/auth"
	"github.com/inaiurai/orchestrator/internal/budget"
	"github.com/inaiurai/orchestrator/internal/conflict"
	"github.com/inaiurai/orchestrator/internal/graph"
	"github.com/inaiurai/orchestrator/internal/notify"
	"github.com/inaiurai/orchestrator/internal/provider"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/schema"
	"github.com/inaiurai/orchestrator/internal/store"
	"github.com/inaiurai/orchestrator/internal/topology"
)

// Server holds every collaborator a handler may need. It has no behaviour
// of its own beyond routing; each handler method is a thin translation
// layer, the same shape as the teacher's handlers.TaskHandler.
type Server struct {
	Store     store.Store
	Graph     *graph.Graph
	Scheduler *scheduler.Scheduler
	Topology  topology.Handler
	Budget    *budget.Guard
	Conflict  *conflict.Monitor
	Notify    *notify.Hub
	Provider  provider.Provider
	Validator *schema.Validator
	Auth      *auth.Validator
	Logger    *slog.Logger
	Mode      string // deployment mode surfaced by /health, e.g. "simulate", "cloud-machines"
	StartedAt time.Time

	// CORSOrigins is the allow-list for cross-origin requests; nil allows
	// any origin, matching rs/cors' own default.
	CORSOrigins []string

	execMu     sync.Mutex
	executions map[uuid.UUID]string // taskID -> provider execution ID, for best-effort cancel
}

// NewServer wires a Server with its executions table initialised.
func NewServer() *Server {
	return &Server{executions: make(map[uuid.UUID]string)}
}

// NewMux builds the full request surface: CORS at the outermost layer,
// auth on every route but /health, one handler per endpoint of spec.md
// §4.10.
func (s *Server) NewMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /tasks", s.handleCreateTasks)
	protected.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	protected.HandleFunc("GET /tasks", s.handleListTasks)
	protected.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)
	protected.HandleFunc("GET /agents", s.handleListAgents)
	protected.HandleFunc("GET /budget", s.handleGetBudget)
	protected.HandleFunc("POST /execute/{taskId}", s.handleExecuteOne)
	protected.HandleFunc("POST /execute/batch", s.handleExecuteBatch)
	protected.Handle("GET /notify", websocket.Handler(s.Notify.ServeWebsocket))

	mux.Handle("/", s.Auth.Middleware(protected))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "X-API-Key", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}
