package freezegate

import (
	"context"
	"strconv"
	"time"

	"github.com/ontosys/omscore/pkg/lockmanager"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
	"google.golang.org/grpc"
)

// Request is the write coordinate extracted from an inbound request.
type Request struct {
	Branch       string
	ResourceType string
	ResourceID   string
}

// Rejection is the SchemaFrozen admission-control payload returned when
// Check blocks a write. Field names match the wire contract verbatim.
type Rejection struct {
	Error                   string   `json:"error"`
	Message                 string   `json:"message"`
	LockScope               string   `json:"lock_scope"`
	OtherResourcesAvailable bool     `json:"other_resources_available"`
	AvailableResourceTypes  []string `json:"available_resource_types"`
	IndexingProgress        int      `json:"indexing_progress"`
	ETASeconds              int64    `json:"eta_seconds"`
	AlternativeActions      []string `json:"alternative_actions"`
}

// Gate is the admission check. It consults the lock manager for a
// conflicting lock and, separately, the store for the branch's own
// BranchState (a branch in LOCKED_FOR_WRITE or ARCHIVED blocks writes
// regardless of any individual resource lock).
type Gate struct {
	locks *lockmanager.Manager
	store store.Store
}

// New creates a Gate over the given lock manager and store.
func New(locks *lockmanager.Manager, s store.Store) *Gate {
	return &Gate{locks: locks, store: s}
}

// Check runs the admission check for req. It returns nil if the write may
// proceed, or an *omserr.Error with Code=Locked and a *Rejection in
// Details-free form accessible via RejectionFrom if the write is blocked.
func (g *Gate) Check(req Request) error {
	branch, err := g.store.GetBranch(req.Branch)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			return omserr.Newf(omserr.NotFound, "branch %q not found", req.Branch)
		}
		return omserr.Wrap(omserr.Internal, "load branch", err)
	}

	if branch.State == types.BranchLockedForWrite || branch.State == types.BranchArchived {
		return g.rejection(req.Branch, types.ScopeBranch, "", branch.State, nil)
	}

	if err := g.locks.CheckWritePermission(req.Branch, req.ResourceType, req.ResourceID); err != nil {
		if conflict, ok := err.(*lockmanager.ErrLockConflict); ok {
			return g.rejectionForLock(req, conflict.LockID)
		}
		return omserr.Wrap(omserr.Internal, "check write permission", err)
	}

	return nil
}

// rejectionForLock builds a Rejection by looking up the conflicting lock's
// full record so progress/ETA can be computed.
func (g *Gate) rejectionForLock(req Request, lockID string) error {
	locks, err := g.store.ListLocksByBranch(req.Branch)
	if err != nil {
		return omserr.Wrap(omserr.Internal, "list locks for rejection payload", err)
	}
	var lock *types.Lock
	for _, l := range locks {
		if l.ID == lockID {
			lock = l
			break
		}
	}
	if lock == nil {
		// Already released between the conflict check and here; treat as
		// transiently unavailable rather than surfacing a stale payload.
		return omserr.New(omserr.Unavailable, "lock was released; retry")
	}

	return g.buildRejection(req, lock)
}

func (g *Gate) rejection(branch string, scope types.LockScope, resourceType string, branchState types.BranchState, lock *types.Lock) error {
	if lock == nil {
		rej := &Rejection{
			Error:                   "SchemaFrozen",
			Message:                 "branch " + branch + " is " + string(branchState),
			LockScope:               string(scope),
			OtherResourcesAvailable: false,
			AvailableResourceTypes:  nil,
			IndexingProgress:        0,
			ETASeconds:              0,
			AlternativeActions:      []string{"retry_later"},
		}
		return rejectionErr(rej)
	}
	return g.buildRejection(Request{Branch: branch, ResourceType: resourceType}, lock)
}

func (g *Gate) buildRejection(req Request, lock *types.Lock) error {
	now := time.Now().UTC()

	eta := int64(0)
	if !lock.ExpiresAt.IsZero() {
		eta = int64(lock.ExpiresAt.Sub(now).Seconds())
		if eta < 0 {
			eta = 0
		}
	}

	progress := 0
	if !lock.ExpiresAt.IsZero() && lock.ExpiresAt.After(lock.AcquiredAt) {
		total := lock.ExpiresAt.Sub(lock.AcquiredAt).Seconds()
		elapsed := now.Sub(lock.AcquiredAt).Seconds()
		progress = clampPercent(elapsed / total * 100)
	}

	available, otherAvailable := g.availableResourceTypes(req.Branch, lock)

	rej := &Rejection{
		Error:                   "SchemaFrozen",
		Message:                 "resource is locked by " + lock.Holder,
		LockScope:               string(lock.Scope),
		OtherResourcesAvailable: otherAvailable,
		AvailableResourceTypes:  available,
		IndexingProgress:        progress,
		ETASeconds:              eta,
		AlternativeActions:      alternativeActions(lock),
	}
	return rejectionErr(rej)
}

// clampPercent clamps pct to [0, 95]; 100 is reserved for a holder that
// has actually published a precise completion via heartbeat/UpdateProgress.
func clampPercent(pct float64) int {
	if pct < 0 {
		return 0
	}
	if pct > 95 {
		return 95
	}
	return int(pct)
}

func alternativeActions(lock *types.Lock) []string {
	actions := []string{"wait_and_retry"}
	if lock.Scope != types.ScopeBranch {
		actions = append(actions, "write_other_resource_type")
	}
	return actions
}

// availableResourceTypes reports whether any resource types on the branch
// remain unlocked, and lists up to a handful of them as a hint. It is a
// best-effort hint, not an exhaustive schema listing.
func (g *Gate) availableResourceTypes(branch string, blocking *types.Lock) ([]string, bool) {
	if blocking.Scope == types.ScopeBranch {
		return nil, false
	}

	locks, err := g.store.ListLocksByBranch(branch)
	if err != nil {
		return nil, true
	}
	locked := make(map[string]bool)
	now := time.Now().UTC()
	for _, l := range locks {
		if l.IsExpired(now, g.locks.HeartbeatGraceFactor()) {
			continue
		}
		if l.Scope == types.ScopeResourceType || l.Scope == types.ScopeResource {
			locked[l.ResourceType] = true
		}
	}

	known := []string{"object_type", "property", "link_type", "interface", "action_type"}
	var available []string
	for _, kind := range known {
		if !locked[kind] {
			available = append(available, kind)
		}
	}
	return available, len(available) > 0
}

// rejectionErr wraps a Rejection into an *omserr.Error carrying the
// payload in Details, keyed so pkg/api can marshal it back out verbatim.
func rejectionErr(r *Rejection) error {
	e := omserr.New(omserr.Locked, r.Message)
	e.Details = map[string]string{
		"error":                     r.Error,
		"lock_scope":                r.LockScope,
		"indexing_progress":         itoa(r.IndexingProgress),
		"eta_seconds":               itoa64(r.ETASeconds),
		"other_resources_available": boolStr(r.OtherResourcesAvailable),
	}
	return &withRejection{Error: e, Rejection: r}
}

// withRejection lets pkg/api recover the structured Rejection via
// errors.As instead of re-parsing the flattened Details map.
type withRejection struct {
	*omserr.Error
	Rejection *Rejection
}

// RejectionFrom extracts the structured Rejection payload from an error
// returned by Gate.Check, if any.
func RejectionFrom(err error) (*Rejection, bool) {
	if wr, ok := err.(*withRejection); ok {
		return wr.Rejection, true
	}
	return nil, false
}

func itoa(i int) string     { return strconv.Itoa(i) }
func itoa64(i int64) string { return strconv.FormatInt(i, 10) }

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ExtractFunc pulls the write coordinate out of an inbound request, or
// returns ok=false for methods the gate should not admission-check (reads,
// health checks, etc).
type ExtractFunc func(ctx context.Context, req interface{}) (Request, bool)

// UnaryServerInterceptor returns a grpc interceptor that runs Check using
// coordinates extracted by extract, short-circuiting with the gate's
// SchemaFrozen error (mapped to codes.FailedPrecondition by pkg/api's
// status-conversion layer) before the handler runs.
func (g *Gate) UnaryServerInterceptor(extract ExtractFunc) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		coord, ok := extract(ctx, req)
		if !ok {
			return handler(ctx, req)
		}
		if err := g.Check(coord); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}
