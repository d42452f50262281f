// Package dispatch drives rate-limited delivery of a rendered template to every
// recipient of a group.
//
// A Registry keeps at most one active run per group. Each run is a single worker
// that walks the recipients in input order, batch by batch, and spaces the start of
// successive delivery attempts by the configured interval. Runs of different groups
// share no pacing state and proceed in parallel.
//
// Per-recipient failures are recorded as outcomes and never stop a run. An
// authentication failure stops the run, because the group credential is unusable.
// Cancellation is cooperative and never interrupts a delivery in flight.
package dispatch
