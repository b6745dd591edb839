package store

import (
	"hash/fnv"
	"sync"
)

// Short, identity-scoped mutual exclusion shared by all writers of the
// same record. Locks are striped and split by domain so a holder of a
// contact or ledger lock can acquire a thread lock without risking a
// stripe collision; nesting is always contact/ledger -> thread, never
// the reverse. Locks guard in-memory read-modify-write sequences only.

const lockStripes = 256

// LockSet is a striped mutex family for one record domain.
type LockSet struct {
	stripes [lockStripes]sync.Mutex
}

// Key returns the stripe mutex guarding the given key.
func (s *LockSet) Key(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%lockStripes]
}

var (
	// ThreadLocks guards thread records and identity-index resolution.
	ThreadLocks LockSet
	// PaymentLocks guards payment model records.
	PaymentLocks LockSet
	// LedgerLocks serializes first sight of a ledger transaction id.
	LedgerLocks LockSet
	// ContactLocks guards contact verification records.
	ContactLocks LockSet
)
