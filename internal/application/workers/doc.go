// Package workers schedules work units onto a bounded pool of workers.
//
// A single dispatch loop owns scheduling. On every wake-up, tick or
// finished unit it:
//   - Lists jobs oldest first and asks the pipeline for ready units
//   - Applies the global, per-job and per-stage concurrency limits
//   - Claims each admitted unit in the job store before running it
//   - Records the outcome through the pipeline, which decides between
//     applying, retrying, re-queueing or failing it
//   - Publishes lifecycle events and records metrics
//
// Workers never touch job records. The health monitor tracks worker status
// and logs metrics.
package workers
