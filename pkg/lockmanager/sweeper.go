package lockmanager

import (
	"sync"
	"time"

	"github.com/ontosys/omscore/pkg/log"
)

// sweepers runs the two leader-only background loops that force-expire
// locks: one on absolute TTL, one on missed heartbeats. Only the Raft
// leader performs the force-unlock Apply; followers observe the same
// result once it is replicated.
type sweepers struct {
	m      *Manager
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newSweepers(m *Manager) *sweepers {
	return &sweepers{m: m, stopCh: make(chan struct{})}
}

func (s *sweepers) start() {
	s.wg.Add(2)
	go s.runTTLSweep()
	go s.runHeartbeatSweep()
}

func (s *sweepers) stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *sweepers) runTTLSweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.m.ttlSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepTTL()
		}
	}
}

func (s *sweepers) runHeartbeatSweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.m.heartbeatSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepHeartbeats()
		}
	}
}

func (s *sweepers) sweepTTL() {
	if !s.m.IsLeader() {
		return
	}
	branches, err := s.m.store.ListBranches()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("ttl sweep: list branches failed")
		return
	}
	now := time.Now().UTC()
	for _, b := range branches {
		locks, err := s.m.store.ListLocksByBranch(b.Name)
		if err != nil {
			continue
		}
		for _, lock := range locks {
			if lock.ExpiresAt.IsZero() || now.Before(lock.ExpiresAt) {
				continue
			}
			if err := s.m.expireTTL(lock.ID); err != nil {
				log.Logger.Warn().Err(err).Str("lock_id", lock.ID).Msg("ttl sweep: force-unlock failed")
			}
		}
	}
}

func (s *sweepers) sweepHeartbeats() {
	if !s.m.IsLeader() {
		return
	}
	branches, err := s.m.store.ListBranches()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("heartbeat sweep: list branches failed")
		return
	}
	now := time.Now().UTC()
	for _, b := range branches {
		locks, err := s.m.store.ListLocksByBranch(b.Name)
		if err != nil {
			continue
		}
		for _, lock := range locks {
			if lock.HeartbeatIntervalS <= 0 || lock.LastHeartbeat == nil {
				continue
			}
			grace := time.Duration(lock.HeartbeatIntervalS*s.m.heartbeatGraceFactor) * time.Second
			if now.Sub(*lock.LastHeartbeat) <= grace {
				continue
			}
			if err := s.m.expireHeartbeat(lock.ID); err != nil {
				log.Logger.Warn().Err(err).Str("lock_id", lock.ID).Msg("heartbeat sweep: force-unlock failed")
			}
		}
	}
}
