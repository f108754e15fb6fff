// Package notifications pushes workflow events to ntfy.
//
// A Story reaching a terminal stage, a failed stage run, and fatal workflow
// errors are published to the topic configured under [notifications]. With no
// topic configured NewService returns a no-op, so callers never need to check.
package notifications
