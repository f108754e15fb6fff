// Package scoring turns the reviews attached to a Story's latest revisions
// into the priority number the work selector sorts by.
//
// Scores are computed on demand and never stored. A kind with no revision,
// or whose latest revision has no review, contributes zero.
package scoring
