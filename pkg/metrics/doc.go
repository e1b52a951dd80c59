/*
Package metrics defines and registers the Prometheus series exposed by the
OMS core: lock-manager gauges and counters (C2), freeze-gate rejections
(C4), outbox depth/dispatch/DLQ counters (C3), shadow-index build and
switch-duration histograms (C5), merge-conflict counters (C6), audit event
counters (C7), and auth cache/denial counters (C8).

Metrics are registered at package init against the default Prometheus
registry and exposed via Handler() for mounting on an HTTP mux. Collector
polls gauge-shaped state (active locks, outbox backlog, shadow-build
counts) on a ticker, the same poll-loop shape the lock sweepers and outbox
dispatcher use elsewhere in this module.
*/
package metrics
