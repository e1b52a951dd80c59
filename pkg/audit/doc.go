/*
Package audit is the Audit Recorder (C7): a structured, tamper-evident,
append-only log of every state-changing action.

Recorder.Record is called inside the same store.WithTx transaction as
the business write it reports (pkg/mergeengine.persist is one caller),
so an audit entry is never lost once the enclosing commit succeeds and
never recorded for a write that rolled back. PII-tagged fields in
Changes.Before/After are run through the same pkg/outbox.Sanitizer used
for outbound event payloads before the record ever reaches disk.

Within that same transaction, Record also inserts an audit.activity.v1
CloudEvents envelope into the outbox table. Projection to downstream
consumers happens asynchronously from there, by the existing C3
dispatcher poll loop — there is no separate audit-specific publisher.

Sweeper runs a ticker-driven background pass (shaped like
pkg/outbox.Dispatcher's poll loop) that purges audit records past their
configured retention window, matched by an action-name regex.
*/
package audit
