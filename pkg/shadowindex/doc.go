/*
Package shadowindex is the Shadow-Index Lifecycle Controller (C5): builds
a new index artifact out-of-band, alongside the one currently serving
reads, then promotes it with a short, lock-protected atomic switch.

# Lifecycle

	PREPARING → BUILDING → BUILT → SWITCHING → ACTIVE → CLEANUP
	                     ↘ FAILED        ↘ FAILED (rollback)
	            ↘ CANCELLED

StartShadowBuild creates a ShadowIndex row in PREPARING and rejects if a
non-terminal build already exists for the same (branch, index_type).
UpdateProgress and CompleteShadowBuild are driven by progress reports the
external Indexer pushes back over the Controller's RPC client; that
client is wrapped in a github.com/sony/gobreaker circuit breaker so a
stalled or crashing Indexer degrades to fast failures instead of hanging
every progress report.

RequestAtomicSwitch acquires a RESOURCE_TYPE "INDEXING" lock through
pkg/lockmanager for the duration of the switch only (never for the
PREPARING..BUILT phase, so unrelated writes to the same resource type
continue uninterrupted), then runs the five-step switch procedure from
the package's switch.go: pre-switch validation, optional backup, promote
(os.Rename, same-volume; io.Copy fallback cross-volume), post-switch
verification, and rollback-on-failure. The lock is always released,
success or failure.

Controller is shaped like the teacher's pkg/reconciler.Reconciler: a
ticker-driven poll loop over non-terminal rows, reconciling stalled
builds and surfacing metrics via ActiveCountsByState (satisfying
pkg/metrics.ShadowStats).
*/
package shadowindex
