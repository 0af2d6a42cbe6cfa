// Package storage persists boss timers, user stats, notification
// subscriptions and an audit trail.
//
// Backends:
//   - memory: in-process only (tests, dry runs, driver "none")
//   - file: CBOR snapshot rewritten on every mutation + JSON Lines audit log
//   - sqlite: local database file (pure Go driver)
//   - sqlserver: remote SQL Server database
package storage
