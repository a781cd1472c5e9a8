// Package domain defines the job model shared by every layer of the
// presentation pipeline: jobs, slide records, stage state, the version
// counters that drive invalidation, lifecycle events and the error taxonomy.
package domain
