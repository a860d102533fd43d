package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

type fakeStore struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (s *fakeStore) Save(ctx context.Context, record *types.PlanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func record(userID uuid.UUID, version int) *types.PlanRecord {
	r := &types.PlanRecord{
		ID:         uuid.New(),
		UserID:     userID,
		ComputedAt: time.Now().UTC(),
		Version:    version,
	}
	_ = r.SetTargets(types.ComputedTargets{BMR: 1500, TDEE: 1800, CalorieTarget: 1800})
	return r
}

func TestSingleFlightCollapsesConcurrentComputes(t *testing.T) {
	store := &fakeStore{}
	c := New(store, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	var computes int64
	fn := func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
		atomic.AddInt64(&computes, 1)
		time.Sleep(50 * time.Millisecond)
		return record(userID, 1), nil
	}

	const n = 25
	results := make([]*types.PlanRecord, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false, fn)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&computes); got != 1 {
		t.Fatalf("compute invocations=%d, want 1", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different record than caller 0", i)
		}
	}
	if store.saves != 1 {
		t.Fatalf("store saves=%d, want 1", store.saves)
	}
}

func TestFreshHitSkipsCompute(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	first, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		})
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}

	second, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			t.Error("compute ran on a fresh entry")
			return nil, errors.New("unexpected compute")
		})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second != first {
		t.Fatal("fresh hit returned a different record")
	}
}

func TestForceRecomputesFreshEntry(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	if _, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		}); err != nil {
		t.Fatalf("first compute: %v", err)
	}

	var ran bool
	got, err := c.ComputeIfAbsentOrStale(context.Background(), userID, true,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			ran = true
			if prev == nil || prev.Version != 1 {
				t.Errorf("prev=%+v, want version 1", prev)
			}
			return record(userID, 2), nil
		})
	if err != nil {
		t.Fatalf("forced compute: %v", err)
	}
	if !ran {
		t.Fatal("forced compute did not run")
	}
	if got.Version != 2 {
		t.Fatalf("version=%d, want 2", got.Version)
	}
}

func TestStaleEntryRecomputes(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		}); err != nil {
		t.Fatalf("first compute: %v", err)
	}

	// Just inside the staleness window: still a hit.
	now = now.Add(59 * time.Minute)
	if rec := c.Get(userID); rec == nil {
		t.Fatal("entry inside window: want hit")
	}

	// Past the window: miss, and the next compute runs with prev available.
	now = now.Add(2 * time.Minute)
	if rec := c.Get(userID); rec != nil {
		t.Fatal("entry past window: want miss")
	}
	var ran bool
	got, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			ran = true
			if prev == nil {
				t.Error("stale recompute: want prior record for change detection")
			}
			return record(userID, 2), nil
		})
	if err != nil {
		t.Fatalf("stale recompute: %v", err)
	}
	if !ran || got.Version != 2 {
		t.Fatalf("stale recompute ran=%v version=%d", ran, got.Version)
	}
}

func TestFailedComputeDoesNotPoison(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()
	boom := errors.New("profile backend down")

	if _, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return nil, boom
		}); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Fatalf("cache len=%d after failed compute, want 0", c.Len())
	}

	got, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got == nil || got.Version != 1 {
		t.Fatalf("retry result=%+v", got)
	}
}

func TestSaveFailureSurfacesAndCachesNothing(t *testing.T) {
	store := &fakeStore{err: errors.New("storage unavailable")}
	c := New(store, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	_, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		})
	if err == nil {
		t.Fatal("want save error")
	}
	if c.Len() != 0 {
		t.Fatalf("cache len=%d after failed save, want 0", c.Len())
	}
}

func TestInvalidateDuringFlightPreventsCaching(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
			func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
				close(started)
				<-release
				return record(userID, 1), nil
			})
		if err != nil {
			t.Errorf("flight: %v", err)
		}
	}()

	<-started
	c.Invalidate(userID)
	close(release)
	<-done

	if c.Len() != 0 {
		t.Fatal("result computed before invalidation must not be cached")
	}
}

func TestBoundedWaitFallsBackToPriorRecord(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 30*time.Millisecond, testLogger(t))
	userID := uuid.New()

	prior, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		})
	if err != nil {
		t.Fatalf("prime: %v", err)
	}

	release := make(chan struct{})
	defer close(release)
	got, err := c.ComputeIfAbsentOrStale(context.Background(), userID, true,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			<-release
			return record(userID, 2), nil
		})
	if err != nil {
		t.Fatalf("timed-out waiter: %v", err)
	}
	if got != prior {
		t.Fatal("timed-out waiter should receive the prior record")
	}
}

func TestBoundedWaitWithoutPriorReturnsTimeout(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 30*time.Millisecond, testLogger(t))
	userID := uuid.New()

	release := make(chan struct{})
	defer close(release)
	_, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			<-release
			return record(userID, 1), nil
		})
	if !errors.Is(err, ErrComputeTimeout) {
		t.Fatalf("err=%v, want ErrComputeTimeout", err)
	}
}

func TestInvalidateForcesNextReadToMiss(t *testing.T) {
	c := New(&fakeStore{}, time.Hour, 5*time.Second, testLogger(t))
	userID := uuid.New()

	if _, err := c.ComputeIfAbsentOrStale(context.Background(), userID, false,
		func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
			return record(userID, 1), nil
		}); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if c.Get(userID) == nil {
		t.Fatal("want hit before invalidation")
	}
	c.Invalidate(userID)
	if c.Get(userID) != nil {
		t.Fatal("want miss after invalidation")
	}
}
