package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/omserr"
)

// handleListLocks lists every lock on a branch, given as a required
// ?branch= query parameter since pkg/store has no cross-branch listing.
func (s *Server) handleListLocks(c echo.Context) error {
	branch := c.QueryParam("branch")
	if branch == "" {
		return omserr.New(omserr.InvalidArgument, "branch query parameter is required")
	}
	locks, err := s.deps.Store.ListLocksByBranch(branch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, locks)
}

func (s *Server) handleGetLock(c echo.Context) error {
	lock, err := s.deps.Store.GetLock(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lock)
}

// handleLockHeartbeat is called by the indexer (api:service:account) to
// keep its lock alive.
func (s *Server) handleLockHeartbeat(c echo.Context) error {
	lock, err := s.deps.Locks.Heartbeat(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lock)
}

type extendLockBody struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

func (s *Server) handleLockExtend(c echo.Context) error {
	var body extendLockBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode extend body", err)
	}
	if body.TTLSeconds <= 0 {
		return omserr.New(omserr.InvalidArgument, "ttl_seconds must be positive")
	}

	lock, err := s.deps.Locks.ExtendTTL(c.Param("id"), time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lock)
}

// handleForceUnlock is the api:system:admin escape hatch an operator uses
// to clear a stuck lock.
func (s *Server) handleForceUnlock(c echo.Context) error {
	if err := s.deps.Locks.ForceUnlock(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
