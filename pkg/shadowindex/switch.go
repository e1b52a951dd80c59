package shadowindex

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ontosys/omscore/pkg/lockmanager"
	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/types"
)

const maxSwitchTimeoutS = 10

// SwitchRequest configures one RequestAtomicSwitch call.
type SwitchRequest struct {
	ValidationChecks []string
	BackupCurrent    bool
	SwitchTimeoutS   int
	ForceSwitch      bool
}

// SwitchResult reports the outcome of an atomic switch attempt.
type SwitchResult struct {
	Success            bool
	SwitchDurationMs   int64
	ValidationErrors   []string
	VerificationErrors []string
	OldPath            string
	NewPath            string
	BackupPath         string
}

// RequestAtomicSwitch acquires a RESOURCE_TYPE "INDEXING" lock on
// shadow.ResourceTypes[0] for the duration of the switch only, then runs
// the five-step validate/backup/rename/verify/activate procedure, always
// releasing the lock before returning.
func (c *Controller) RequestAtomicSwitch(locks *lockmanager.Manager, holder string, shadowID string, req SwitchRequest) (*SwitchResult, error) {
	shadow, err := c.store.GetShadowIndex(shadowID)
	if err != nil {
		return nil, err
	}
	if shadow.State != types.ShadowBuilt {
		return nil, omserr.Newf(omserr.PreconditionFailed, "shadow index %s is in state %s, not BUILT", shadowID, shadow.State)
	}

	timeoutS := req.SwitchTimeoutS
	if timeoutS <= 0 || timeoutS > maxSwitchTimeoutS {
		timeoutS = maxSwitchTimeoutS
	}
	resourceType := "index"
	if len(shadow.ResourceTypes) > 0 {
		resourceType = shadow.ResourceTypes[0]
	}

	lock, err := locks.LockForIndexing(shadow.Branch, resourceType, holder, time.Duration(timeoutS)*time.Second)
	if err != nil {
		return nil, omserr.Wrap(omserr.Locked, "could not acquire switch lock", err)
	}
	defer func() {
		if releaseErr := locks.CompleteIndexing(lock.ID, holder); releaseErr != nil {
			log.Logger.Error().Err(releaseErr).Str("lock_id", lock.ID).Msg("shadowindex: failed to release switch lock")
		}
	}()

	shadow.State = types.ShadowSwitching
	if err := c.store.UpdateShadowIndex(shadow); err != nil {
		return nil, err
	}

	start := time.Now()
	result := runSwitch(shadow, req)
	result.SwitchDurationMs = time.Since(start).Milliseconds()

	if result.Success {
		now := time.Now().UTC()
		shadow.State = types.ShadowActive
		shadow.BuildCompletedAt = &now
		metrics.ShadowSwitchTotal.WithLabelValues("success").Inc()
	} else {
		shadow.State = types.ShadowFailed
		metrics.ShadowSwitchTotal.WithLabelValues("failure").Inc()
	}
	metrics.ShadowSwitchDuration.Observe(time.Since(start).Seconds())

	if err := c.store.UpdateShadowIndex(shadow); err != nil {
		return result, err
	}
	return result, nil
}

// runSwitch executes the five-step atomic switch procedure. It never
// returns an error directly: every failure is captured in the result so
// the caller can persist state exactly once.
func runSwitch(shadow *types.ShadowIndex, req SwitchRequest) *SwitchResult {
	result := &SwitchResult{
		OldPath: shadow.CurrentPath,
		NewPath: shadow.ShadowPath,
	}

	// Step 1: pre-switch validation.
	if errs := validateBeforeSwitch(shadow, req.ForceSwitch); len(errs) > 0 {
		result.ValidationErrors = errs
		result.Success = false
		return result
	}

	// Step 2: backup.
	var backupPath string
	if req.BackupCurrent {
		backupPath = fmt.Sprintf("%s.bak.%d", shadow.CurrentPath, time.Now().UnixNano())
		if err := os.Rename(shadow.CurrentPath, backupPath); err != nil {
			result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("backup failed: %v", err))
			result.Success = false
			return result
		}
		result.BackupPath = backupPath
	}

	// Step 3: promote.
	if err := promote(shadow.ShadowPath, shadow.CurrentPath); err != nil {
		result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("promote failed: %v", err))
		rollback(backupPath, shadow.CurrentPath)
		result.Success = false
		return result
	}

	// Step 4: post-switch verification.
	if errs := verifyAfterSwitch(shadow); len(errs) > 0 {
		result.VerificationErrors = errs
		rollback(backupPath, shadow.CurrentPath)
		result.Success = false
		return result
	}

	result.Success = true
	return result
}

func validateBeforeSwitch(shadow *types.ShadowIndex, forceSwitch bool) []string {
	var errs []string
	info, err := os.Stat(shadow.ShadowPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("shadow artifact missing at %s: %v", shadow.ShadowPath, err))
		return errs
	}
	if shadow.RecordCount != nil && *shadow.RecordCount < 1 && !forceSwitch {
		errs = append(errs, "record count is zero; pass force_switch to proceed anyway")
	}
	if shadow.SizeBytes != nil && info.Size() != *shadow.SizeBytes && !forceSwitch {
		errs = append(errs, fmt.Sprintf("shadow artifact size %d does not match reported %d", info.Size(), *shadow.SizeBytes))
	}
	return errs
}

func verifyAfterSwitch(shadow *types.ShadowIndex) []string {
	var errs []string
	info, err := os.Stat(shadow.CurrentPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("current artifact missing after promote: %v", err))
		return errs
	}
	if shadow.SizeBytes != nil && info.Size() == 0 && *shadow.SizeBytes > 0 {
		errs = append(errs, "current artifact is empty after promote")
	}
	return errs
}

// promote moves src to dst. ATOMIC_RENAME is the default strategy
// (bounded, same-volume); on cross-volume moves os.Rename returns
// syscall.EXDEV and promote falls back to COPY_AND_REPLACE.
func promote(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyAndReplace(src, dst)
}

func copyAndReplace(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return os.Remove(src)
}

// rollback restores a backup artifact to the current path after a failed
// promote or verification. It is best-effort: a rollback failure is
// logged, not escalated into the already-failing switch result.
func rollback(backupPath, currentPath string) {
	if backupPath == "" {
		return
	}
	if err := os.Rename(backupPath, currentPath); err != nil {
		log.Logger.Error().Err(err).Str("backup_path", backupPath).Str("current_path", currentPath).Msg("shadowindex: rollback failed")
	}
}
