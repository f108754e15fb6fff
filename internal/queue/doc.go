// Package queue persists Stories, their versioned content, and reviews in
// SQLite, and provides the claim/lease primitives workers use to take Stories
// off a stage.
//
// The Store manages database connections, schema initialization, busy-retry,
// and transactions. Revisions and reviews are append-only: the Go types carry
// no setters, the package exposes no update or delete paths for them, and
// triggers in schema.sql reject such writes even from raw SQL. The one
// permitted post-creation write is attaching a review to a revision that has
// none.
//
// A Story's stage changes only through ApplyStep, which takes a stages.Step
// resolved from the stage table, and through the claim operations, which move
// a Story between a stage and its "Claimed:<stage>" marker.
//
// Schema changes bump the version in schema.go; users recreate the database
// to adopt the new schema.
package queue
