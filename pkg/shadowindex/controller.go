package shadowindex

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

const pollInterval = 10 * time.Second

// Controller drives the shadow-index lifecycle, shaped like the
// teacher's reconciler.Reconciler ticker loop.
type Controller struct {
	store   store.Store
	indexer IndexerClient
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu           sync.Mutex
	activeCounts map[string]int
}

// NewController creates a Controller. indexer may be nil if this process
// never initiates builds (e.g. a read-only replica watching state only).
func NewController(s store.Store, indexer IndexerClient) *Controller {
	return &Controller{
		store:        s,
		indexer:      indexer,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		activeCounts: make(map[string]int),
	}
}

// Start begins the reconciliation poll loop.
func (c *Controller) Start() {
	go c.run()
}

// Stop stops the poll loop.
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Controller) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reconcile()
		case <-c.stopCh:
			return
		}
	}
}

// reconcile is a best-effort sweep logging any build stuck past a
// generous staleness bound; it does not force-fail builds, since a slow
// but still-progressing Indexer is not itself an error.
func (c *Controller) reconcile() {
	branches, err := c.store.ListBranches()
	if err != nil {
		log.Logger.Error().Err(err).Msg("shadowindex controller: list branches failed")
		return
	}
	counts := map[string]int{}
	for _, b := range branches {
		indexes, err := c.store.ListShadowIndexesByBranch(b.Name)
		if err != nil {
			log.Logger.Error().Err(err).Str("branch", b.Name).Msg("shadowindex controller: list shadow indexes failed")
			continue
		}
		for _, idx := range indexes {
			counts[string(idx.State)]++
			if !idx.State.IsTerminal() && time.Since(idx.BuildStartedAt) > time.Hour {
				log.Logger.Warn().
					Str("shadow_id", idx.ID).
					Str("branch", idx.Branch).
					Str("state", string(idx.State)).
					Dur("age", time.Since(idx.BuildStartedAt)).
					Msg("shadow index build stalled")
			}
		}
	}
	c.mu.Lock()
	c.activeCounts = counts
	c.mu.Unlock()
}

// StartShadowBuild creates a new ShadowIndex in PREPARING, rejecting if a
// non-terminal build already exists for (branch, indexType). It does not
// take a branch write lock — reads and writes to the branch continue
// throughout PREPARING..BUILT.
func (c *Controller) StartShadowBuild(ctx context.Context, branch, indexType string, resourceTypes []string, currentPath, shadowPath string) (*types.ShadowIndex, error) {
	existing, err := c.store.ListShadowIndexesByBranch(branch)
	if err != nil {
		return nil, err
	}
	for _, idx := range existing {
		if idx.IndexType == indexType && !idx.State.IsTerminal() {
			return nil, omserr.Newf(omserr.Conflict, "a non-terminal shadow index already exists for branch %q index_type %q", branch, indexType)
		}
	}

	shadow := &types.ShadowIndex{
		ID:             uuid.NewString(),
		Branch:         branch,
		IndexType:      indexType,
		ResourceTypes:  resourceTypes,
		State:          types.ShadowPreparing,
		BuildStartedAt: time.Now().UTC(),
		CurrentPath:    currentPath,
		ShadowPath:     shadowPath,
	}
	if err := c.store.CreateShadowIndex(shadow); err != nil {
		return nil, err
	}
	metrics.ShadowBuildsActive.WithLabelValues(string(types.ShadowPreparing)).Inc()

	if c.indexer != nil {
		ack, err := c.indexer.RequestBuild(ctx, BuildRequest{
			ShadowID:      shadow.ID,
			Branch:        branch,
			IndexType:     indexType,
			ResourceTypes: resourceTypes,
		})
		if err != nil || !ack.Accepted {
			shadow.State = types.ShadowFailed
			_ = c.store.UpdateShadowIndex(shadow)
			if err != nil {
				return nil, omserr.Wrap(omserr.Unavailable, "indexer rejected build request", err)
			}
			return nil, omserr.Newf(omserr.Unavailable, "indexer declined build request: %s", ack.Message)
		}
		shadow.State = types.ShadowBuilding
		if err := c.store.UpdateShadowIndex(shadow); err != nil {
			return nil, err
		}
	}

	return shadow, nil
}

// UpdateProgress records an in-flight build's progress, reported by the
// external Indexer.
func (c *Controller) UpdateProgress(shadowID string, progressPct int, etaS *int64, recordCount *int64) error {
	shadow, err := c.store.GetShadowIndex(shadowID)
	if err != nil {
		return err
	}
	if shadow.State.IsTerminal() {
		return omserr.Newf(omserr.PreconditionFailed, "shadow index %s is already terminal (%s)", shadowID, shadow.State)
	}
	shadow.ProgressPct = clampProgress(progressPct)
	shadow.EstimatedCompletionS = etaS
	if recordCount != nil {
		shadow.RecordCount = recordCount
	}
	return c.store.UpdateShadowIndex(shadow)
}

// CompleteShadowBuild transitions BUILDING -> BUILT.
func (c *Controller) CompleteShadowBuild(shadowID string, sizeBytes, recordCount int64, summary string) (*types.ShadowIndex, error) {
	shadow, err := c.store.GetShadowIndex(shadowID)
	if err != nil {
		return nil, err
	}
	if shadow.State != types.ShadowBuilding {
		return nil, omserr.Newf(omserr.PreconditionFailed, "shadow index %s is in state %s, not BUILDING", shadowID, shadow.State)
	}
	now := time.Now().UTC()
	shadow.State = types.ShadowBuilt
	shadow.ProgressPct = 100
	shadow.SizeBytes = &sizeBytes
	shadow.RecordCount = &recordCount
	shadow.BuildCompletedAt = &now
	if err := c.store.UpdateShadowIndex(shadow); err != nil {
		return nil, err
	}
	log.Logger.Info().Str("shadow_id", shadowID).Str("summary", summary).Msg("shadow index build complete")
	return shadow, nil
}

// CancelShadowBuild transitions any non-terminal build to CANCELLED.
func (c *Controller) CancelShadowBuild(shadowID, reason string) error {
	shadow, err := c.store.GetShadowIndex(shadowID)
	if err != nil {
		return err
	}
	if shadow.State.IsTerminal() {
		return omserr.Newf(omserr.PreconditionFailed, "shadow index %s is already terminal (%s)", shadowID, shadow.State)
	}
	shadow.State = types.ShadowCancelled
	if err := c.store.UpdateShadowIndex(shadow); err != nil {
		return err
	}
	log.Logger.Info().Str("shadow_id", shadowID).Str("reason", reason).Msg("shadow index build cancelled")
	return nil
}

// ActiveCountsByState satisfies metrics.ShadowStats.
func (c *Controller) ActiveCountsByState() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.activeCounts))
	for k, v := range c.activeCounts {
		out[k] = v
	}
	return out
}

func clampProgress(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
