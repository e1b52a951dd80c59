/*
Package api implements the ontology management system's external interface:
schema CRUD, branch operations, lock admin, indexing lifecycle, and event
subscription, fronted by Echo the way eve's api package fronts its REST
surface with github.com/labstack/echo/v4
(evalgo-org-eve/api/rest.go, authorization.go).

The wire contracts are transport-agnostic in principle — the implementation
may expose them over HTTP and/or a typed gRPC — and the write-rejection
payload (423) is phrased in HTTP terms. This package takes the HTTP leg of
that contract: every operation is plain JSON over Echo, admission and
identity checks run as Echo middleware, and the 423 rejection body is
written out verbatim from pkg/freezegate's Rejection struct.

pkg/identity.Validator and pkg/freezegate.Gate additionally expose a
grpc.UnaryServerInterceptor binding of the exact same Validate/Check calls
this package's middleware uses, so a typed gRPC server could be grafted
onto the same admission logic later without re-deriving it. This package
does not construct that grpc.Server itself: generating the protobuf
message types such a server would marshal requires a protoc toolchain not
present in this build environment, and hand-writing types satisfying
protoreflect.Message without a generator isn't something to do without
being able to compile and check it. JSON-over-HTTP needs no code
generator and is explicitly sanctioned by the wire contract above.

# Architecture

	┌──────────────────────── CLIENT ───────────────────────────┐
	│  HTTP/JSON, bearer token (pkg/identity JWT)                │
	└─────────────────────────┬──────────────────────────────────┘
	                          │
	┌─────────────────────────▼──────────────────────────────────┐
	│                    api.Server (Echo)                        │
	│  - identity.Validator middleware (authn + capability check)│
	│  - freezegate.Gate middleware (423 admission check)         │
	│  - route handlers: schema / branches / locks / indexing /  │
	│    events                                                    │
	└───┬──────────┬──────────┬───────────┬──────────┬───────────┘
	    │          │          │           │          │
	 store.Store lockmanager shadowindex mergeengine audit.Recorder

# Routes

Schema CRUD (one set of routes per EntityKind):

	GET    /v1/branches/:branch/:kind
	POST   /v1/branches/:branch/:kind
	GET    /v1/branches/:branch/:kind/:rid
	PUT    /v1/branches/:branch/:kind/:rid
	DELETE /v1/branches/:branch/:kind/:rid

Branch operations:

	POST /v1/branches
	GET  /v1/branches/:branch
	POST /v1/branches/:branch/archive
	POST /v1/branches/:branch/merge

Lock admin:

	GET    /v1/locks
	GET    /v1/locks/:id
	POST   /v1/locks/:id/heartbeat
	POST   /v1/locks/:id/extend
	DELETE /v1/locks/:id

Indexing lifecycle:

	POST /v1/shadow/start
	POST /v1/shadow/:id/progress
	POST /v1/shadow/:id/complete
	POST /v1/shadow/:id/switch
	POST /v1/shadow/:id/cancel
	GET  /v1/shadow/:id

Event subscription, as a Server-Sent Events stream of the CloudEvents
envelope shape:

	GET /v1/events
*/
package api
