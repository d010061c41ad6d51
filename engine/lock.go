/*
lock.go - Advisory lock manager with short TTLs

PURPOSE:
  Grants/releases advisory locks keyed by (entity type, entity id) so
  only one actor edits an entity at a time. Locks are advisory only:
  they gate the orchestrator's own write path, not arbitrary external
  writes; the Ledger Store does not enforce them. The durable guard is
  the per-entity version column (optimistic concurrency).

SEMANTICS:
  - Acquire fails immediately with LOCKED when a non-expired lock is
    held by a different holder. No blocking, no retry; callers back off.
  - Re-acquiring with the same holder refreshes the TTL (idempotent).
  - Release of an absent lock fails NOT_FOUND; release by the holder is
    otherwise idempotent.
  - Expired locks are treated as absent on every check. There is no
    is-expired caching that can go stale.
  - A crashed holder can never permanently block an entity: the TTL
    expires and the next acquirer wins.

SEE ALSO:
  - api/sweeper.go: periodic cleanup of expired entries
  - undo.go: same in-memory pattern for the undo journal
*/
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long an orchestrator invocation may hold an
// entity before a crashed holder stops blocking it.
const DefaultLockTTL = 90 * time.Second

// Lock is an ephemeral advisory record. Never persisted beyond its TTL.
type Lock struct {
	ID         string
	EntityType EntityType
	EntityID   string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (l Lock) expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

type lockKey struct {
	Type EntityType
	ID   string
}

// LockManager hands out TTL advisory locks. Safe for concurrent use.
type LockManager struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[lockKey]Lock

	// now is swappable for tests.
	now func() time.Time
}

// NewLockManager creates a manager with the given TTL (DefaultLockTTL if
// ttl <= 0).
func NewLockManager(ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{
		ttl:   ttl,
		locks: make(map[lockKey]Lock),
		now:   time.Now,
	}
}

// Acquire grants the lock to holder, or fails with a LockHeldError if a
// non-expired lock exists for a different holder. Re-acquiring with the
// same holder refreshes the expiry and returns the same lock ID.
func (lm *LockManager) Acquire(entityType EntityType, entityID, holder string) (Lock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	k := lockKey{entityType, entityID}

	if existing, ok := lm.locks[k]; ok && !existing.expired(now) {
		if existing.Holder != holder {
			return Lock{}, &LockHeldError{EntityType: entityType, EntityID: entityID, Holder: existing.Holder}
		}
		existing.ExpiresAt = now.Add(lm.ttl)
		lm.locks[k] = existing
		return existing, nil
	}

	lock := Lock{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lm.ttl),
	}
	lm.locks[k] = lock
	return lock, nil
}

// Release removes the lock with the given ID. Fails with ErrNotFound if
// no live lock carries that ID; succeeds idempotently for the holder.
func (lm *LockManager) Release(lockID, by string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	for k, l := range lm.locks {
		if l.ID != lockID {
			continue
		}
		if l.expired(now) {
			delete(lm.locks, k)
			return ErrNotFound
		}
		if l.Holder != by {
			return &LockHeldError{EntityType: l.EntityType, EntityID: l.EntityID, Holder: l.Holder}
		}
		delete(lm.locks, k)
		return nil
	}
	return ErrNotFound
}

// Check is a pure read: returns the live lock for the entity, if any.
func (lm *LockManager) Check(entityType EntityType, entityID string) (Lock, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	k := lockKey{entityType, entityID}
	l, ok := lm.locks[k]
	if !ok || l.expired(lm.now()) {
		return Lock{}, false
	}
	return l, true
}

// Sweep deletes expired entries and reports how many were removed.
func (lm *LockManager) Sweep() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	removed := 0
	for k, l := range lm.locks {
		if l.expired(now) {
			delete(lm.locks, k)
			removed++
		}
	}
	return removed
}
