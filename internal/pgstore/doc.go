// Package pgstore is the PostgreSQL engine, built on pgx.
//
// A Session holds one pooled connection inside a transaction. Nested levels
// are pgx pseudo nested transactions, which pgx implements with savepoints.
package pgstore
