// Package core provides the domain models and process plumbing for one
// simulation job.
//
// # Core Types
//
// Job: an immutable parameter set plus its canonical name, working directory
// and artifact cache key.
//
// Stage: one of the three ordered phases of a job (PreCC, PostCC, Stella).
//
// ArtifactCache: reusable progenitor models keyed by ArtifactKey, stored
// outside any job working directory.
//
// Runner: materializes a job's working directory from a template family and
// executes stages as subprocesses, streaming their output line by line to a
// stage-scoped LineSink.
//
// Nothing in this package depends on the process current working directory;
// every path is derived from an explicit Layout.
package core
