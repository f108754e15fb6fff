// Package lifecycle owns every stage change a Story goes through.
//
// Manager creates Stories at the stage table's initial stage, moves them
// along declared pass/fail edges, and wraps "finish stage work" (new
// reviews, new revisions, Story-wide review links and the transition) in a
// single transaction so no reader ever sees a revision without the stage
// change that goes with it.
package lifecycle
