// Package selection decides which waiting Story a worker receives next.
//
// Candidates at a stage are ordered by version progress (fewest revisions of
// the stage's content kind first), then by aggregated review score (highest
// first), then by age (oldest first), then by id. NextForStage is a pure read
// of that ordering. ClaimNext reserves the winner for one worker by moving it
// into the stage's claim marker with a compare-and-swap, falling through to
// the next candidate when another worker got there first.
package selection
