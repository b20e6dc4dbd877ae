// Package store is the SQLite host engine.
//
// A Store owns the database; a Session pins its single connection, runs the
// outermost transaction and implements host.Engine on top of it:
//
//   - nested levels are savepoints named after the level's owner token
//   - commit releases the savepoint, rollback rolls back to it and releases it
//   - read-only commands run with PRAGMA query_only switched on, so a write
//     attempted through a read is raised as an engine failure
//   - driver errors are raised as *host.Failure carrying the SQLite result
//     code name (SQLITE_ERROR, SQLITE_CONSTRAINT, ...)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
