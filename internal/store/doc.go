// Package store provides the durable, per-owner collection of tracked operations.
//
// Each owner's operations are persisted as one document under
// kv.OperationsKey(owner):
//
//	{"schema_version": 1, "operations": [ ...newest first... ]}
//
// # Critical Patterns
//
// Per-owner serialization
//   - Put and Update are read-modify-write over the whole document
//   - Every mutation holds the owner's keylock for the full cycle
//   - Concurrent updates to different ids of the same owner never lose writes
//
// Durable before return
//   - A mutation returns nil only after the backend confirmed the write
//   - Callers must not treat a transition as durable when an error is returned
//
// Monotonic status
//   - Terminal operations are never moved back to pending or across terminals
//   - Violations surface as record.ErrInvalidTransition
package store
