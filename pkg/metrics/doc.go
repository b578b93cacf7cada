// Package metrics provides Prometheus metrics and health/readiness endpoints
// for Meridian. Metrics are registered once at package init and exposed via
// Handler(); component packages update them directly rather than going
// through a central collector, since each component already guards its own
// state behind a lock.
package metrics
