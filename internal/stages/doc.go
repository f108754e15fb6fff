// Package stages declares the pipeline stage table.
//
// Every stage a Story can occupy is listed once, together with the content
// kind it produces and the stage that follows a pass or a fail outcome. The
// table is authored explicitly in stages.toml (or a custom file named in the
// configuration) and loaded once at startup; nothing infers transitions from
// stage names, and a loaded Registry cannot be changed.
//
// A stage write is expressed as a Step, which only Metadata.Resolve can
// construct. Persistence code accepts Steps rather than raw stage strings, so
// every transition in the system is one the table declares.
package stages
