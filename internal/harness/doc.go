// Package harness runs declarative scenarios against the sub-transaction
// layer and records what happened.
//
// A scenario opens nested scopes, runs plain or checked commands inside
// them, resolves each scope in a chosen way and finally queries the
// database to check which effects survived. Every run starts from a fresh
// in-memory SQLite database with deterministic tokens, so the trace of a
// scenario is stable and can be compared against a golden file.
//
// Scenarios are written in YAML or CUE:
//
//	name: nested_rollback
//	description: inner rollback keeps the outer write
//	setup:
//	  - CREATE TABLE t (x INTEGER)
//	steps:
//	  - open:
//	      resolve: commit
//	      steps:
//	        - write: INSERT INTO t VALUES (1)
//	          checked: true
//	        - open:
//	            resolve: rollback
//	            steps:
//	              - write: INSERT INTO t VALUES (2)
//	assertions:
//	  - query: SELECT x FROM t ORDER BY x
//	    rows: [[1]]
package harness
