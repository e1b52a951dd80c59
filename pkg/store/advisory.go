package store

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// stripeCount is the number of mutex stripes in the advisory lock table.
// A resource key hashes to one stripe; unrelated keys that collide into
// the same stripe simply contend more, never deadlock.
const stripeCount = 256

// advisoryTable is a striped mutex table used to serialize same-process
// critical sections ahead of a bbolt transaction, keyed by xxhash of the
// caller's resource key.
type advisoryTable struct {
	stripes [stripeCount]sync.Mutex
}

func newAdvisoryTable() *advisoryTable {
	return &advisoryTable{}
}

func (t *advisoryTable) stripeFor(key []byte) *sync.Mutex {
	h := xxhash.Sum64(key)
	return &t.stripes[h%stripeCount]
}

// tryLock attempts to acquire the stripe for key within timeout. It
// returns an unlock function and true on success, or a nil func and false
// if the timeout elapsed first.
func (t *advisoryTable) tryLock(key []byte, timeout time.Duration) (func(), bool) {
	mu := t.stripeFor(key)

	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return mu.Unlock, true
	case <-time.After(timeout):
		// The goroutine above may still be blocked waiting for mu; when it
		// eventually acquires it, it will unlock immediately since nobody
		// holds the returned unlock func. This leaks a short-lived
		// goroutine per timeout, bounded by however long the current
		// holder takes to release.
		go func() {
			<-done
			mu.Unlock()
		}()
		return nil, false
	}
}
