package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/freezegate"
	"github.com/ontosys/omscore/pkg/identity"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/outbox"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

const schemaEventSource = "oms://schema"

// entityKindSlugs is every URL path segment schema CRUD is registered
// under.
var entityKindSlugs = []string{
	"object_types", "properties", "link_types", "interfaces", "action_types",
}

var slugToKind = map[string]types.EntityKind{
	"object_types": types.KindObjectType,
	"properties":   types.KindProperty,
	"link_types":   types.KindLinkType,
	"interfaces":   types.KindInterface,
	"action_types": types.KindActionType,
}

// resourceType is the freezegate/matrix-facing name for kind; it matches
// the slug without the trailing "s" (pkg/freezegate.availableResourceTypes
// uses this exact vocabulary).
func resourceType(slug string) string {
	kind := slugToKind[slug]
	return string(kind)
}

// kindCreatedEvent/UpdatedEvent/DeletedEvent map an EntityKind to the
// CloudEvents type it fires on mutation. Interface and ActionType have
// no kind-specific event type, so they fall back to the generic
// schema.* type.
func kindEventType(kind types.EntityKind, op types.EntityChangeOp) events.EventType {
	switch kind {
	case types.KindObjectType:
		switch op {
		case types.ChangeAdd:
			return events.EventObjectTypeCreated
		case types.ChangeModify:
			return events.EventObjectTypeUpdated
		default:
			return events.EventObjectTypeDeleted
		}
	case types.KindProperty:
		switch op {
		case types.ChangeAdd:
			return events.EventPropertyCreated
		case types.ChangeModify:
			return events.EventPropertyUpdated
		default:
			return events.EventPropertyDeleted
		}
	case types.KindLinkType:
		switch op {
		case types.ChangeAdd:
			return events.EventLinkTypeCreated
		case types.ChangeModify:
			return events.EventLinkTypeUpdated
		default:
			return events.EventLinkTypeDeleted
		}
	default:
		switch op {
		case types.ChangeAdd:
			return events.EventSchemaCreated
		case types.ChangeModify:
			return events.EventSchemaUpdated
		default:
			return events.EventSchemaDeleted
		}
	}
}

func (s *Server) handleListEntities(slug string) echo.HandlerFunc {
	return func(c echo.Context) error {
		branch := c.Param("branch")
		entities, err := s.deps.Store.ListEntities(branch, slugToKind[slug])
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, entities)
	}
}

func (s *Server) handleGetEntity(slug string) echo.HandlerFunc {
	return func(c echo.Context) error {
		entity, err := s.deps.Store.GetEntity(c.Param("branch"), slugToKind[slug], c.Param("rid"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, entity)
	}
}

func (s *Server) handleCreateEntity(slug string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var entity types.SchemaEntity
		if err := c.Bind(&entity); err != nil {
			return omserr.Wrap(omserr.InvalidArgument, "decode entity body", err)
		}

		kind := slugToKind[slug]
		entity.Branch = c.Param("branch")
		entity.Kind = kind
		if entity.Rid == "" {
			entity.Rid = uuid.NewString()
		}
		if entity.APIName == "" {
			return omserr.New(omserr.InvalidArgument, "api_name is required")
		}

		actor := actorOf(c)
		entity.CreatedBy = actor
		entity.UpdatedBy = actor

		eventType := kindEventType(kind, types.ChangeAdd)
		err := s.landSchemaWrite(eventType, string(kind), entity.Branch, entity.Rid, actor, string(kind)+".create", nil, entityToMap(&entity),
			func(tx *store.Tx) error { return tx.PutEntity(&entity) })
		if err != nil {
			return err
		}

		s.publishSchemaEvent(eventType, entity.Branch, entity.Rid, actor)
		return c.JSON(http.StatusCreated, entity)
	}
}

func (s *Server) handleUpdateEntity(slug string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var entity types.SchemaEntity
		if err := c.Bind(&entity); err != nil {
			return omserr.Wrap(omserr.InvalidArgument, "decode entity body", err)
		}

		kind := slugToKind[slug]
		entity.Branch = c.Param("branch")
		entity.Kind = kind
		entity.Rid = c.Param("rid")
		entity.UpdatedBy = actorOf(c)

		expectedVersion, err := ifMatchVersion(c)
		if err != nil {
			return err
		}

		var before map[string]any
		eventType := kindEventType(kind, types.ChangeModify)
		err = s.landSchemaWrite(eventType, string(kind), entity.Branch, entity.Rid, entity.UpdatedBy, string(kind)+".update", before, nil,
			func(tx *store.Tx) error {
				if prior, getErr := tx.GetEntity(entity.Branch, kind, entity.Rid); getErr == nil {
					before = entityToMap(prior)
				}
				return tx.UpdateEntity(&entity, expectedVersion)
			})
		if err != nil {
			return err
		}

		s.publishSchemaEvent(eventType, entity.Branch, entity.Rid, entity.UpdatedBy)
		return c.JSON(http.StatusOK, entity)
	}
}

func (s *Server) handleDeleteEntity(slug string) echo.HandlerFunc {
	return func(c echo.Context) error {
		branch, rid := c.Param("branch"), c.Param("rid")
		kind := slugToKind[slug]
		actor := actorOf(c)

		var before map[string]any
		eventType := kindEventType(kind, types.ChangeDelete)
		err := s.landSchemaWrite(eventType, string(kind), branch, rid, actor, string(kind)+".delete", before, nil,
			func(tx *store.Tx) error {
				if prior, getErr := tx.GetEntity(branch, kind, rid); getErr == nil {
					before = entityToMap(prior)
				}
				return tx.DeleteEntity(branch, kind, rid)
			})
		if err != nil {
			return err
		}

		s.publishSchemaEvent(eventType, branch, rid, actor)
		return c.NoContent(http.StatusNoContent)
	}
}

// landSchemaWrite runs write against the store inside a single bbolt
// transaction, then inserts a pending outbox row carrying eventType's
// CloudEvents envelope and calls audit.Recorder.Record, so the business
// write, its outbox row and its audit record commit atomically — the
// same three-part transaction pkg/mergeengine.Engine.persist lands for
// merges. before/after become the audit record's Changes snapshot.
func (s *Server) landSchemaWrite(eventType events.EventType, targetKind, branch, rid, actor, auditAction string, before, after map[string]any, write func(tx *store.Tx) error) error {
	now := time.Now().UTC()
	envelope, err := outbox.NewEnvelope(outbox.NewEnvelopeParams{
		Type:    string(eventType),
		Source:  schemaEventSource,
		Subject: rid,
		Data:    map[string]any{"branch": branch, "rid": rid, "actor": actor},
		Branch:  branch,
		Author:  actor,
	}, now)
	if err != nil {
		return omserr.Wrap(omserr.Internal, "build schema event envelope", err)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return omserr.Wrap(omserr.Internal, "marshal schema event envelope", err)
	}

	return s.deps.Store.WithTx(func(tx *store.Tx) error {
		if err := write(tx); err != nil {
			return err
		}
		if err := tx.InsertOutbox(&types.OutboxRecord{
			EventID:    envelope.ID,
			Type:       envelope.Type,
			Payload:    payload,
			Subject:    envelope.Subject,
			Status:     types.OutboxPendingStatus,
			MaxRetries: 5,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		return s.deps.Audit.Record(tx, &types.AuditRecord{
			Action:     auditAction,
			ActorID:    actor,
			TargetKind: targetKind,
			TargetID:   rid,
			Branch:     branch,
			Success:    true,
			Changes:    types.AuditChanges{Before: before, After: after},
			Time:       now,
		}, now)
	})
}

// entityToMap renders entity as a plain map for an audit record's
// before/after snapshot, going through JSON so it matches the wire
// representation a caller diffing audit history would see.
func entityToMap(entity *types.SchemaEntity) map[string]any {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// publishSchemaEvent broadcasts the mutation to live /v1/events
// subscribers via the in-memory broker. Durable, at-least-once delivery
// to external consumers goes through the outbox row landSchemaWrite
// already committed; this is purely the low-latency fan-out path for
// watchers connected when the write happens.
func (s *Server) publishSchemaEvent(eventType events.EventType, branch, rid, actor string) {
	s.deps.Broker.Publish(&events.Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Message:  string(eventType) + " " + rid,
		Metadata: map[string]string{"branch": branch, "rid": rid, "actor": actor},
	})
}

// actorOf extracts the calling subject identity.Validator attached, or
// "anonymous" on an unauthenticated test call.
func actorOf(c echo.Context) string {
	if uc := userFromContext(c); uc != nil {
		return uc.Subject
	}
	return "anonymous"
}

// ifMatchVersion parses the optimistic-concurrency If-Match header an
// update request must carry, rejecting the request outright when it is
// missing rather than updating blind.
func ifMatchVersion(c echo.Context) (int64, error) {
	raw := c.Request().Header.Get("If-Match")
	if raw == "" {
		return 0, omserr.New(omserr.InvalidArgument, "If-Match header is required for updates")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, omserr.Wrap(omserr.InvalidArgument, "If-Match must be an integer version", err)
	}
	return v, nil
}

// capabilityTable builds the "METHOD path"->Capability table
// authMiddleware enforces. Every /v1 route+method must appear here:
// authMiddleware denies by default, and this table is mounted only on
// the /v1 group, so
// /healthz, /readyz and /metrics never pass through it at all. Reads
// and writes on the same path are keyed separately so a read-only
// token cannot reach the write verbs.
func (s *Server) capabilityTable() identity.RouteTable {
	table := identity.RouteTable{}
	for _, slug := range entityKindSlugs {
		base := "/v1/branches/:branch/" + slug
		table[http.MethodGet+" "+base] = identity.CapSchemasRead
		table[http.MethodPost+" "+base] = identity.CapSchemasWrite
		table[http.MethodGet+" "+base+"/:rid"] = identity.CapSchemasRead
		table[http.MethodPut+" "+base+"/:rid"] = identity.CapSchemasWrite
		table[http.MethodDelete+" "+base+"/:rid"] = identity.CapSchemasWrite
	}

	table[http.MethodPost+" /v1/branches"] = identity.CapBranchesWrite
	table[http.MethodGet+" /v1/branches/:branch"] = identity.CapSchemasRead
	table[http.MethodPost+" /v1/branches/:branch/archive"] = identity.CapSystemAdmin
	table[http.MethodPost+" /v1/branches/:branch/merge"] = identity.CapBranchesWrite

	table[http.MethodGet+" /v1/locks"] = identity.CapSchemasRead
	table[http.MethodGet+" /v1/locks/:id"] = identity.CapSchemasRead
	table[http.MethodPost+" /v1/locks/:id/heartbeat"] = identity.CapServiceAccount
	table[http.MethodPost+" /v1/locks/:id/extend"] = identity.CapSystemAdmin
	table[http.MethodDelete+" /v1/locks/:id"] = identity.CapSystemAdmin

	table[http.MethodPost+" /v1/shadow/start"] = identity.CapSystemAdmin
	table[http.MethodGet+" /v1/shadow/:id"] = identity.CapSchemasRead
	table[http.MethodPost+" /v1/shadow/:id/progress"] = identity.CapServiceAccount
	table[http.MethodPost+" /v1/shadow/:id/complete"] = identity.CapServiceAccount
	table[http.MethodPost+" /v1/shadow/:id/switch"] = identity.CapSystemAdmin
	table[http.MethodPost+" /v1/shadow/:id/cancel"] = identity.CapSystemAdmin

	table[http.MethodGet+" /v1/events"] = identity.CapSchemasRead
	return table
}

// writeCoordinate extracts the freezegate.Request coordinate for every
// route C4 must admission-check: schema writes, branch archive/merge,
// and force-unlock. Branch-level operations check only the branch's
// own freeze state (empty ResourceType never matches a resource-scope
// lock); force-unlock looks its target lock up to recover the
// branch/resource-type coordinate it would otherwise lack. Every other
// route returns ok=false and bypasses the gate.
func (s *Server) writeCoordinate(c echo.Context) (freezegate.Request, bool) {
	method := c.Request().Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodDelete {
		return freezegate.Request{}, false
	}

	route := c.Path()
	for _, slug := range entityKindSlugs {
		if route == "/v1/branches/:branch/"+slug || route == "/v1/branches/:branch/"+slug+"/:rid" {
			return freezegate.Request{
				Branch:       c.Param("branch"),
				ResourceType: resourceType(slug),
				ResourceID:   c.Param("rid"),
			}, true
		}
	}

	switch route {
	case "/v1/branches/:branch/archive", "/v1/branches/:branch/merge":
		return freezegate.Request{Branch: c.Param("branch")}, true
	case "/v1/locks/:id":
		lock, err := s.deps.Store.GetLock(c.Param("id"))
		if err != nil {
			return freezegate.Request{}, false
		}
		return freezegate.Request{Branch: lock.Branch, ResourceType: lock.ResourceType, ResourceID: lock.ResourceID}, true
	}
	return freezegate.Request{}, false
}
