package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/shadowindex"
)

type startShadowBody struct {
	Branch        string   `json:"branch"`
	IndexType     string   `json:"index_type"`
	ResourceTypes []string `json:"resource_types"`
	CurrentPath   string   `json:"current_path"`
	ShadowPath    string   `json:"shadow_path"`
}

func (s *Server) handleShadowStart(c echo.Context) error {
	var body startShadowBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode shadow start body", err)
	}
	if body.Branch == "" || body.IndexType == "" {
		return omserr.New(omserr.InvalidArgument, "branch and index_type are required")
	}

	idx, err := s.deps.Shadow.StartShadowBuild(c.Request().Context(), body.Branch, body.IndexType, body.ResourceTypes, body.CurrentPath, body.ShadowPath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, idx)
}

func (s *Server) handleShadowStatus(c echo.Context) error {
	idx, err := s.deps.Store.GetShadowIndex(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, idx)
}

type shadowProgressBody struct {
	ProgressPct int    `json:"progress_pct"`
	EtaSeconds  *int64 `json:"eta_seconds"`
	RecordCount *int64 `json:"record_count"`
}

// handleShadowProgress is an api:service:account endpoint: only the
// indexer reports its own progress.
func (s *Server) handleShadowProgress(c echo.Context) error {
	var body shadowProgressBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode progress body", err)
	}
	if err := s.deps.Shadow.UpdateProgress(c.Param("id"), body.ProgressPct, body.EtaSeconds, body.RecordCount); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type shadowCompleteBody struct {
	SizeBytes   int64  `json:"size_bytes"`
	RecordCount int64  `json:"record_count"`
	Summary     string `json:"summary"`
}

func (s *Server) handleShadowComplete(c echo.Context) error {
	var body shadowCompleteBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode complete body", err)
	}
	idx, err := s.deps.Shadow.CompleteShadowBuild(c.Param("id"), body.SizeBytes, body.RecordCount, body.Summary)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, idx)
}

type shadowSwitchBody struct {
	ValidationChecks []string `json:"validation_checks"`
	BackupCurrent    bool     `json:"backup_current"`
	SwitchTimeoutS   int      `json:"switch_timeout_s"`
	ForceSwitch      bool     `json:"force_switch"`
}

// handleShadowSwitch is an api:system:admin operation: promoting a
// shadow index briefly takes an INDEXING lock on its resource type.
func (s *Server) handleShadowSwitch(c echo.Context) error {
	var body shadowSwitchBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode switch body", err)
	}

	result, err := s.deps.Shadow.RequestAtomicSwitch(s.deps.Locks, actorOf(c), c.Param("id"), shadowindex.SwitchRequest{
		ValidationChecks: body.ValidationChecks,
		BackupCurrent:    body.BackupCurrent,
		SwitchTimeoutS:   body.SwitchTimeoutS,
		ForceSwitch:      body.ForceSwitch,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type shadowCancelBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleShadowCancel(c echo.Context) error {
	var body shadowCancelBody
	_ = c.Bind(&body)
	if err := s.deps.Shadow.CancelShadowBuild(c.Param("id"), body.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
