// Package workflow runs the stage workers.
//
// The Manager starts one or more workers per configured stage. Each worker
// loops: it asks the selector for the best Story waiting at its stage, claims
// it, keeps the lease alive while the stage handler runs, and hands the result
// to stageexec for persistence. Workers at different stages never coordinate
// directly; the claim in the database is the only lock.
//
// Recoverable errors (conflicts, validation, missing rows) are logged and the
// worker moves on. A fatal store error stops every worker and is reported by
// Err once Done is closed.
package workflow
