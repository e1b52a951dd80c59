package metrics

import (
	"time"
)

// LockStats is the subset of lock-manager state the collector needs to
// populate gauges. lockmanager.Manager satisfies this interface.
type LockStats interface {
	ActiveLockCounts() map[string]map[string]int // scope -> type -> count
	IsRaftLeader() bool
}

// OutboxStats is the subset of outbox state the collector needs.
// outbox.Dispatcher satisfies this interface.
type OutboxStats interface {
	PendingCount() (int, error)
}

// ShadowStats is the subset of shadow-index state the collector needs.
// shadowindex.Controller satisfies this interface.
type ShadowStats interface {
	ActiveCountsByState() map[string]int
}

// Collector periodically samples gauge-shaped state from the core engines
// and publishes it to Prometheus, following the same ticker-driven poll
// loop shape used by the outbox dispatcher and shadow-index reconciler.
type Collector struct {
	locks  LockStats
	outbox OutboxStats
	shadow ShadowStats
	period time.Duration
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector. Any of locks/outbox/shadow
// may be nil, in which case that group of gauges is left unset.
func NewCollector(locks LockStats, outbox OutboxStats, shadow ShadowStats) *Collector {
	return &Collector{
		locks:  locks,
		outbox: outbox,
		shadow: shadow,
		period: 15 * time.Second,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a background ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLockMetrics()
	c.collectOutboxMetrics()
	c.collectShadowMetrics()
}

func (c *Collector) collectLockMetrics() {
	if c.locks == nil {
		return
	}
	if c.locks.IsRaftLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	for scope, byType := range c.locks.ActiveLockCounts() {
		for lockType, count := range byType {
			LocksActive.WithLabelValues(scope, lockType).Set(float64(count))
		}
	}
}

func (c *Collector) collectOutboxMetrics() {
	if c.outbox == nil {
		return
	}
	pending, err := c.outbox.PendingCount()
	if err != nil {
		return
	}
	OutboxPending.Set(float64(pending))
}

func (c *Collector) collectShadowMetrics() {
	if c.shadow == nil {
		return
	}
	for state, count := range c.shadow.ActiveCountsByState() {
		ShadowBuildsActive.WithLabelValues(state).Set(float64(count))
	}
}
