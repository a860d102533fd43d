package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

// ErrComputeTimeout is returned when a waiter's bounded wait on an in-flight
// computation elapses and no prior record exists to fall back on.
var ErrComputeTimeout = errors.New("plan computation wait exceeded")

// RecordStore persists a freshly computed record write-through. The cache is
// the fast path; the store is the system of record.
type RecordStore interface {
	Save(ctx context.Context, record *types.PlanRecord) error
}

// ComputeFunc produces a new record. prev is the latest cached record for
// the key (possibly stale, possibly nil) for change detection.
type ComputeFunc func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error)

type entry struct {
	record         *types.PlanRecord
	lastComputedAt time.Time
}

// PlanCache holds the latest PlanRecord per user and arbitrates concurrent
// access: concurrent computations for one key collapse into a single flight,
// unrelated keys never contend on a shared lock beyond the map itself.
type PlanCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	// gens invalidation stamps: a flight begun under an older generation
	// returns its result to waiters but is not cached.
	gens  map[uuid.UUID]uint64
	group singleflight.Group

	ttl   time.Duration
	wait  time.Duration
	store RecordStore
	log   *logger.Logger
	now   func() time.Time
}

func New(store RecordStore, ttl, wait time.Duration, baseLog *logger.Logger) *PlanCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &PlanCache{
		entries: make(map[uuid.UUID]*entry),
		gens:    make(map[uuid.UUID]uint64),
		ttl:     ttl,
		wait:    wait,
		store:   store,
		log:     baseLog.With("component", "PlanCache"),
		now:     time.Now,
	}
}

// Get returns the cached record if present and fresh, nil otherwise. Expiry
// is judged lazily here; entries past twice the staleness window are removed
// (one extra window is retained so a timed-out waiter can still fall back on
// the prior value).
func (c *PlanCache) Get(userID uuid.UUID) *types.PlanRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil
	}
	age := c.now().Sub(e.lastComputedAt)
	if age >= 2*c.ttl {
		delete(c.entries, userID)
		return nil
	}
	if age >= c.ttl {
		return nil
	}
	return e.record
}

// Seed installs a record loaded from durable storage (cold-start path).
// It never overwrites a newer cached record.
func (c *PlanCache) Seed(record *types.PlanRecord) {
	if record == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[record.UserID]; ok && e.lastComputedAt.After(record.ComputedAt) {
		return
	}
	c.entries[record.UserID] = &entry{record: record, lastComputedAt: record.ComputedAt}
}

// Invalidate removes the cached record and bumps the key's generation so an
// in-flight computation started before the invalidation cannot re-pin a
// stale result. The next read recomputes.
func (c *PlanCache) Invalidate(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.gens[userID]++
}

// ComputeIfAbsentOrStale returns the fresh cached record, or runs fn under
// single-flight semantics: concurrent callers for the same key wait on one
// computation instead of duplicating it. force skips the freshness fast path
// but still joins any in-flight computation. The wait is bounded; a waiter
// that times out gets the prior record (stale allowed) or ErrComputeTimeout.
func (c *PlanCache) ComputeIfAbsentOrStale(ctx context.Context, userID uuid.UUID, force bool, fn ComputeFunc) (*types.PlanRecord, error) {
	if !force {
		if rec := c.Get(userID); rec != nil {
			return rec, nil
		}
	}

	c.mu.RLock()
	gen := c.gens[userID]
	var prev *types.PlanRecord
	if e, ok := c.entries[userID]; ok {
		prev = e.record
	}
	c.mu.RUnlock()

	// The flight outlives any single waiter: one caller's cancellation must
	// not abort a computation other callers are waiting on.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(userID.String(), func() (interface{}, error) {
		record, err := fn(flightCtx, prev)
		if err != nil {
			// A failed compute caches nothing; the prior record stays
			// intact and the next caller retries.
			return nil, err
		}
		if err := c.store.Save(flightCtx, record); err != nil {
			return nil, err
		}
		c.finish(userID, record, gen)
		return record, nil
	})

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.PlanRecord), nil
	case <-ctx.Done():
		return c.fallback(userID, ctx.Err())
	case <-timer.C:
		c.log.Warn("Bounded wait on plan computation elapsed", "user_id", userID)
		return c.fallback(userID, ErrComputeTimeout)
	}
}

func (c *PlanCache) finish(userID uuid.UUID, record *types.PlanRecord, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != gen {
		// Invalidated mid-flight: the result reflects a pre-edit profile.
		return
	}
	c.entries[userID] = &entry{record: record, lastComputedAt: c.now()}
}

func (c *PlanCache) fallback(userID uuid.UUID, cause error) (*types.PlanRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[userID]; ok {
		return e.record, nil
	}
	return nil, cause
}

// Len reports the number of cached entries.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
