// Package schedule starts dispatch runs on cron, interval or daily wall-clock schedules.
//
// The service only decides when a run starts. Pacing, batching and the
// one-run-per-group rule stay with the dispatch registry; a fire for a group
// that is already running is logged and skipped.
package schedule
