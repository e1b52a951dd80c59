/*
Package types defines the core data structures shared across the OMS core:
branches, the tagged SchemaEntity variant (ObjectType, Property, LinkType,
Interface, ActionType), locks, outbox records, audit records, shadow
indexes, and changesets/proposals. These are the types every other package
(store, lockmanager, outbox, shadowindex, mergeengine, audit, identity)
reads and writes; they carry no behavior of their own beyond small,
side-effect-free helpers (IsExpired, IsTerminal, and the like).
*/
package types
