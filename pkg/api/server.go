package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/ontosys/omscore/pkg/audit"
	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/freezegate"
	"github.com/ontosys/omscore/pkg/health"
	"github.com/ontosys/omscore/pkg/identity"
	"github.com/ontosys/omscore/pkg/lockmanager"
	"github.com/ontosys/omscore/pkg/mergeengine"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/shadowindex"
	"github.com/ontosys/omscore/pkg/store"
)

// Deps is everything Server needs to handle a request. Every field is a
// previously built component (C1-C8); Server only wires them to routes.
type Deps struct {
	Store    store.Store
	Locks    *lockmanager.Manager
	Gate     *freezegate.Gate
	Shadow   *shadowindex.Controller
	Merge    *mergeengine.Engine
	Audit    *audit.Recorder
	Identity *identity.Validator
	Broker   *events.Broker

	// IndexerHealth, when set, is checked by handleReadyz so a
	// misconfigured or unreachable Indexer shows up in readiness rather
	// than only surfacing once a shadow build is requested. Nil when no
	// Indexer is configured.
	IndexerHealth health.Checker
}

// Server is the ontology management system's HTTP/JSON API.
type Server struct {
	echo *echo.Echo
	deps Deps
	http *http.Server
}

// NewServer builds a Server with every route registered and the
// authentication/admission middleware wired in.
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = httpErrorHandler
	e.Use(echomw.Recover())
	e.Use(requestMetricsMiddleware())

	s := &Server{echo: e, deps: deps}
	s.routes()
	return s
}

// routes registers every handler along with the two cross-cutting
// middlewares: authMiddleware (identity/capability) runs on every
// protected route; admissionMiddleware (freezegate 423 check) runs only
// on routes that write schema state.
func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/v1")
	v1.Use(authMiddleware(s.deps.Identity, s.capabilityTable()))
	v1.Use(admissionMiddleware(s.deps.Gate, s.writeCoordinate))

	for _, slug := range entityKindSlugs {
		group := v1.Group("/branches/:branch/" + slug)
		group.GET("", s.handleListEntities(slug))
		group.POST("", s.handleCreateEntity(slug))
		group.GET("/:rid", s.handleGetEntity(slug))
		group.PUT("/:rid", s.handleUpdateEntity(slug))
		group.DELETE("/:rid", s.handleDeleteEntity(slug))
	}

	v1.POST("/branches", s.handleCreateBranch)
	v1.GET("/branches/:branch", s.handleGetBranch)
	v1.POST("/branches/:branch/archive", s.handleArchiveBranch)
	v1.POST("/branches/:branch/merge", s.handleMergeBranch)

	v1.GET("/locks", s.handleListLocks)
	v1.GET("/locks/:id", s.handleGetLock)
	v1.POST("/locks/:id/heartbeat", s.handleLockHeartbeat)
	v1.POST("/locks/:id/extend", s.handleLockExtend)
	v1.DELETE("/locks/:id", s.handleForceUnlock)

	v1.POST("/shadow/start", s.handleShadowStart)
	v1.GET("/shadow/:id", s.handleShadowStatus)
	v1.POST("/shadow/:id/progress", s.handleShadowProgress)
	v1.POST("/shadow/:id/complete", s.handleShadowComplete)
	v1.POST("/shadow/:id/switch", s.handleShadowSwitch)
	v1.POST("/shadow/:id/cancel", s.handleShadowCancel)

	v1.GET("/events", s.handleEventStream)
}

// Start binds addr and serves until Stop is called or the listener
// fails. It blocks, mirroring the teacher's Start(addr) contract.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, waiting up to ctx's deadline
// for in-flight requests (including any open event stream) to drain.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
