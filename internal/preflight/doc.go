// Package preflight provides readiness checks for the paths, database, and
// stage programs storyforge depends on.
//
// These checks run in two contexts:
//   - The workflow manager calls RunAll before starting its workers and
//     refuses to start when any check fails.
//   - The CLI "storyforge queue health" command shows the same results.
package preflight
