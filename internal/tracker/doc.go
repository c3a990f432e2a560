// Package tracker owns the table of submitted jobs and the strategies that
// correlate them with remote workflow runs.
//
// A dispatch call returns nothing that identifies the run it created, so
// every submission is registered as pending and later matched to a run,
// either by a unique tag echoed back in the run document or by ordinal
// position after a baseline run id. Once matched, a job only moves forward
// through queued, running and a terminal state, and each timestamp is
// written at most once.
package tracker
