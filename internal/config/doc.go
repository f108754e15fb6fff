// Package config reads storyforge's TOML settings and turns them into a
// validated Config.
//
// Load starts from built-in defaults, overlays the first config file it finds,
// expands "~" in every path, and then applies STORYFORGE_WORKER_ID when the
// file leaves the worker identity blank. Validate rejects unknown log
// levels, non-positive intervals and stage commands without an executable.
// Stage names are checked later, once the stage table is loaded.
//
// Callers outside this package should treat Config as read-only once Load
// returns.
package config
