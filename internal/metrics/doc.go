// Package metrics exposes Prometheus collectors for the story pipeline:
// selections and claims per stage, transitions, revisions written, handler
// durations, and the current Story count per stage.
//
// Every method is safe on a nil *Metrics so callers can leave metrics
// unconfigured without guarding each call site.
package metrics
