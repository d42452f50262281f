// Package storage persists the history of finished dispatch runs.
//
// Drivers:
//   - "file": JSON Lines, one record per finished run
//   - "sqlite": SQLite database (pure Go driver)
//
// An empty driver or "none" disables persistence.
package storage
