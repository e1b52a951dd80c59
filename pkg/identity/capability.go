package identity

// Capability is one scope string from the token's scope set. Capability
// values are the scope strings themselves, not a separate indirection
// layer mapped onto them.
type Capability string

const (
	CapSchemasRead      Capability = "api:schemas:read"
	CapSchemasWrite     Capability = "api:schemas:write"
	CapBranchesWrite    Capability = "api:branches:write"
	CapProposalsApprove Capability = "api:proposals:approve"
	CapSystemAdmin      Capability = "api:system:admin"
	CapServiceAccount   Capability = "api:service:account"
)

// RouteTable maps a gRPC full method name (e.g.
// "/oms.v1.SchemaService/CreateObjectType") to the capability required
// to call it. A method absent from the table is denied by default.
type RouteTable map[string]Capability
