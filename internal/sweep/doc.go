// Package sweep drives a parameter sweep through its two phases.
//
// The sequential phase takes one job at a time through PreCC and PostCC under
// a DeadlineGuard, consulting and filling the artifact cache. The parallel
// phase runs Stella for every job that survived, on a bounded worker pool,
// and exports each result table as soon as its job finishes.
//
// Every job-scoped error stops at the job boundary: it is logged, recorded
// on the job's JobRecord and in the trace, and the sweep moves on.
package sweep
