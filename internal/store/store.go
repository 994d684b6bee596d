package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/userops/internal/codec"
	"github.com/roach88/userops/internal/keylock"
	"github.com/roach88/userops/internal/kv"
	"github.com/roach88/userops/internal/record"
)

// SchemaVersion is the version of the persisted operations document.
const SchemaVersion = 1

// ErrOwnerMismatch is returned when a record is stored under another owner.
var ErrOwnerMismatch = errors.New("operation owner does not match collection owner")

// document is the persisted shape of one owner's collection.
type document struct {
	SchemaVersion int                `json:"schema_version"`
	Operations    []record.Operation `json:"operations"`
}

// Store is the per-owner operation collection.
//
// Thread-safety: safe for concurrent use. Mutations for one owner are
// serialized; different owners proceed concurrently. Stores created over
// the same backend value share one lock map, so several Stores in a
// process stay consistent. Across processes, consistency needs a backend
// implementing kv.Updater (SQLite, Redis).
type Store struct {
	kv    kv.Store
	locks *keylock.Map
}

var (
	registryMu sync.Mutex
	registry   = map[kv.Store]*keylock.Map{}
)

// locksFor returns the lock map shared by every Store over backend.
// Entries live for the life of the process; backends are opened once per
// process in practice.
func locksFor(backend kv.Store) *keylock.Map {
	registryMu.Lock()
	defer registryMu.Unlock()
	m, ok := registry[backend]
	if !ok {
		m = keylock.New()
		registry[backend] = m
	}
	return m
}

// New creates a Store persisting to backend.
func New(backend kv.Store) *Store {
	return &Store{kv: backend, locks: locksFor(backend)}
}

// Get returns owner's operations, newest first.
// Returns an empty slice (not nil) if the owner has no operations.
func (s *Store) Get(ctx context.Context, owner string) ([]record.Operation, error) {
	unlock := s.locks.Lock(kv.OperationsKey(owner))
	defer unlock()

	return s.load(ctx, owner)
}

// Find returns the operation with id, if present.
func (s *Store) Find(ctx context.Context, owner, id string) (record.Operation, bool, error) {
	ops, err := s.Get(ctx, owner)
	if err != nil {
		return record.Operation{}, false, err
	}
	for _, op := range ops {
		if op.ID == id {
			return op, true, nil
		}
	}
	return record.Operation{}, false, nil
}

// Pending returns owner's operations that have not reached a terminal state.
func (s *Store) Pending(ctx context.Context, owner string) ([]record.Operation, error) {
	ops, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	pending := []record.Operation{}
	for _, op := range ops {
		if op.Status == record.StatusPending {
			pending = append(pending, op)
		}
	}
	return pending, nil
}

// Put appends op, or replaces the operation with the same id in place.
//
// A new operation is placed first (newest first). Replacing keeps the
// original SubmittedAt and refuses to move a terminal operation to a
// different status.
func (s *Store) Put(ctx context.Context, owner string, op record.Operation) error {
	if op.Owner == "" {
		op.Owner = owner
	}
	if !record.SameAddress(op.Owner, owner) {
		return fmt.Errorf("%w: %s vs %s", ErrOwnerMismatch, op.Owner, owner)
	}

	return s.mutate(ctx, owner, func(ops []record.Operation) ([]record.Operation, error) {
		next := op
		for i, existing := range ops {
			if existing.ID != next.ID {
				continue
			}
			if existing.Status.Terminal() && existing.Status != next.Status {
				return nil, fmt.Errorf("put %s: %w: %s -> %s", next.ID, record.ErrInvalidTransition, existing.Status, next.Status)
			}
			next.SubmittedAt = existing.SubmittedAt
			ops[i] = next
			return ops, nil
		}
		return append([]record.Operation{next}, ops...), nil
	})
}

// Update merges patch into the operation matching id.
//
// Returns found=false (and writes nothing) if no operation has that id.
// The returned operation is the stored result.
func (s *Store) Update(ctx context.Context, owner, id string, patch record.Patch) (record.Operation, bool, error) {
	var (
		existing, updated record.Operation
		found             bool
		applyErr          error
	)
	err := s.mutate(ctx, owner, func(ops []record.Operation) ([]record.Operation, error) {
		// Reset per call: a backend may rerun fn after a write conflict.
		existing, updated, found, applyErr = record.Operation{}, record.Operation{}, false, nil
		for i, op := range ops {
			if op.ID != id {
				continue
			}
			existing, found = op, true
			next, err := patch.Apply(op)
			if err != nil {
				applyErr = fmt.Errorf("update %s: %w", id, err)
				return nil, nil
			}
			updated = next
			ops[i] = next
			return ops, nil
		}
		return nil, nil
	})
	switch {
	case err != nil && found:
		return existing, true, err
	case err != nil:
		return record.Operation{}, false, err
	case applyErr != nil:
		return existing, true, applyErr
	case !found:
		return record.Operation{}, false, nil
	}
	return updated, true, nil
}

// mutate runs a read-modify-write of owner's collection. fn returns the
// collection to write, or nil to write nothing. fn may run more than once.
func (s *Store) mutate(ctx context.Context, owner string, fn func([]record.Operation) ([]record.Operation, error)) error {
	key := kv.OperationsKey(owner)
	unlock := s.locks.Lock(key)
	defer unlock()

	if u, ok := s.kv.(kv.Updater); ok {
		err := u.Update(ctx, key, func(data []byte) ([]byte, error) {
			ops, err := decode(owner, data)
			if err != nil {
				return nil, err
			}
			next, err := fn(ops)
			if err != nil || next == nil {
				return nil, err
			}
			return encode(owner, next)
		})
		if err != nil {
			return fmt.Errorf("save operations for %s: %w", owner, err)
		}
		return nil
	}

	ops, err := s.load(ctx, owner)
	if err != nil {
		return err
	}
	next, err := fn(ops)
	if err != nil || next == nil {
		return err
	}
	return s.save(ctx, owner, next)
}

// load reads and decodes owner's document. Caller must hold the owner lock.
func (s *Store) load(ctx context.Context, owner string) ([]record.Operation, error) {
	data, err := s.kv.Get(ctx, kv.OperationsKey(owner))
	if errors.Is(err, kv.ErrNotFound) {
		return []record.Operation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load operations for %s: %w", owner, err)
	}
	return decode(owner, data)
}

// save encodes and writes owner's document. Caller must hold the owner lock.
func (s *Store) save(ctx context.Context, owner string, ops []record.Operation) error {
	data, err := encode(owner, ops)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, kv.OperationsKey(owner), data); err != nil {
		return fmt.Errorf("save operations for %s: %w", owner, err)
	}
	return nil
}

// decode parses a stored document. A nil data is an empty collection.
func decode(owner string, data []byte) ([]record.Operation, error) {
	if data == nil {
		return []record.Operation{}, nil
	}
	var doc document
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load operations for %s: %w", owner, err)
	}
	if err := codec.CheckVersion(doc.SchemaVersion, SchemaVersion); err != nil {
		return nil, fmt.Errorf("load operations for %s: %w", owner, err)
	}
	if doc.Operations == nil {
		doc.Operations = []record.Operation{}
	}
	return doc.Operations, nil
}

func encode(owner string, ops []record.Operation) ([]byte, error) {
	data, err := codec.Marshal(document{SchemaVersion: SchemaVersion, Operations: ops})
	if err != nil {
		return nil, fmt.Errorf("save operations for %s: %w", owner, err)
	}
	return data, nil
}
