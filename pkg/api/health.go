package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// healthResponse is the /healthz liveness payload.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// readyResponse is the /readyz readiness payload.
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// handleHealthz is a pure liveness check: if the process can answer at
// all, it is healthy.
func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// handleReadyz checks the dependencies a request actually touches: the
// store (a trivial ListBranches) and the Raft-backed lock manager's
// leadership state. A follower is still ready to serve reads; it only
// stops being ready when the cluster has no leader at all.
func (s *Server) handleReadyz(c echo.Context) error {
	checks := map[string]string{}
	ready := true

	if _, err := s.deps.Store.ListBranches(); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if s.deps.Locks != nil {
		if s.deps.Locks.IsLeader() {
			checks["raft"] = "leader"
		} else if addr := s.deps.Locks.LeaderAddr(); addr != "" {
			checks["raft"] = "follower (leader: " + addr + ")"
		} else {
			checks["raft"] = "no leader elected"
			ready = false
		}
	}

	// Indexer reachability is informational only: a down Indexer blocks
	// shadow-index builds, not schema reads/writes, so it doesn't flip
	// the overall readiness verdict.
	if s.deps.IndexerHealth != nil {
		result := s.deps.IndexerHealth.Check(c.Request().Context())
		if result.Healthy {
			checks["indexer"] = "ok"
		} else {
			checks["indexer"] = result.Message
		}
	}

	status := http.StatusOK
	statusText := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		statusText = "not ready"
	}
	return c.JSON(status, readyResponse{Status: statusText, Timestamp: time.Now(), Checks: checks})
}
