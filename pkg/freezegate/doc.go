/*
Package freezegate is the Schema-Freeze Gate (C4): pre-write admission
control sitting in front of every schema mutation.

For any write it extracts (branch, resource_type, resource_id) from the
request, asks the Branch Lock Manager (pkg/lockmanager) whether that
coordinate is currently locked, and either lets the write proceed or
returns a structured SchemaFrozen rejection carrying enough information
(lock scope, holder, indexing progress, ETA, alternative resource types
still writable) for a caller to decide whether to wait, retry elsewhere,
or surface the block to a human.

Check satisfies both call shapes the teacher's admission checks use
elsewhere in the stack: a plain Go function for direct calls from
pkg/api handlers, and a grpc.UnaryServerInterceptor for wiring into the
server chain alongside pkg/identity's auth interceptor.
*/
package freezegate
