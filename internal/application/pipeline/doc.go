// Package pipeline implements the per-job state machine.
//
// Every function operates on a *domain.Job in memory and has no side
// effects beyond mutating that record, so callers run them inside a
// ports.JobStore Update to get an atomic read-modify-write.
//
// Per-slide stages form the chain script -> synthesize -> assemble. Each
// slide carries a script version; a stage output is current only when its
// OutputVersion equals that version and every upstream stage is current.
// Editing a script bumps the version, which makes downstream outputs stale
// without deleting them. Finalize is keyed by the sum of all script
// versions, so any edit also stales the final video.
package pipeline
