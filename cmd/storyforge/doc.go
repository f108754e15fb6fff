// Package main hosts the storyforge CLI entrypoint and command graph.
//
// The Cobra command tree opens the story database directly: it creates and
// fans out stories, records revisions and reviews, inspects the ranked work
// queue, and runs the stage workers in the foreground. Configuration
// resolution and logger setup live here so subcommands only deal with
// presentation.
//
// Keep this package lean: new behaviour belongs in the internal packages
// first and is surfaced here through dedicated commands or flags.
package main
