// Package stage defines the contract between the workflow manager and the
// workers that do the actual content work for a stage.
package stage
