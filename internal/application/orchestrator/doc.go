// Package orchestrator implements the public contract of the pipeline.
//
// The manager accepts decks, reports job status and progress, applies
// script edits that re-run only the affected downstream stages, serves
// finished videos and cancels jobs. It never executes stages itself: every
// mutation goes through the pipeline state machine inside a job store
// update, and the scheduler is woken to pick up the resulting work.
//
// The validator performs a cheap structural check of submitted decks.
package orchestrator
