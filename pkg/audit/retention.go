package audit

import (
	"regexp"
	"time"

	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

const defaultSweepInterval = 1 * time.Hour

// RetentionPolicy binds a retention window to every action matching
// ActionPattern. Policies are tried in order; the first match wins.
// RetentionDays <= 0 means retain forever.
type RetentionPolicy struct {
	ActionPattern *regexp.Regexp
	RetentionDays int
}

// DefaultRetentionPolicies is a catch-all 365-day window for every
// action, matching the spec's retention example without committing a
// deployment to any action-specific carve-out.
func DefaultRetentionPolicies() []RetentionPolicy {
	return []RetentionPolicy{
		{ActionPattern: regexp.MustCompile(`.*`), RetentionDays: 365},
	}
}

// Sweeper periodically purges audit records past their policy's
// retention window, following the teacher's ticker-driven poll loop
// shape (pkg/outbox.Dispatcher.run).
type Sweeper struct {
	store    store.Store
	policies []RetentionPolicy
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper builds a Sweeper. An empty or nil policies list falls back
// to DefaultRetentionPolicies.
func NewSweeper(s store.Store, policies []RetentionPolicy, interval time.Duration) *Sweeper {
	if len(policies) == 0 {
		policies = DefaultRetentionPolicies()
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		store:    s,
		policies: policies,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start() {
	go sw.run()
}

// Stop stops the sweep loop and waits for the in-flight pass to finish.
func (sw *Sweeper) Stop() {
	close(sw.stopCh)
	<-sw.doneCh
}

func (sw *Sweeper) run() {
	defer close(sw.doneCh)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := sw.Sweep(time.Now()); err != nil {
				log.Logger.Error().Err(err).Msg("audit sweeper: purge failed")
			}
		case <-sw.stopCh:
			return
		}
	}
}

// Sweep runs one purge pass against now, returning the number of
// records removed. Exported so callers (and tests) can drive it
// deterministically outside the ticker loop.
func (sw *Sweeper) Sweep(now time.Time) (int, error) {
	purged, err := sw.store.PurgeAuditRecords(func(r *types.AuditRecord) bool {
		days := sw.retentionDaysFor(r.Action)
		if days <= 0 {
			return false
		}
		cutoff := now.AddDate(0, 0, -days)
		return r.Time.Before(cutoff)
	})
	if err == nil && purged > 0 {
		log.Logger.Info().Int("purged", purged).Msg("audit sweeper: retention purge complete")
	}
	return purged, err
}

func (sw *Sweeper) retentionDaysFor(action string) int {
	for _, p := range sw.policies {
		if p.ActionPattern.MatchString(action) {
			return p.RetentionDays
		}
	}
	return 0
}
