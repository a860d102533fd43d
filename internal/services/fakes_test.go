package services

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/metabolic-backend/internal/cache"
	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*types.Profile
	failures int
	calls    int
	block    chan struct{}
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[uuid.UUID]*types.Profile)}
}

func (r *fakeProfileRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.Profile, error) {
	r.mu.Lock()
	r.calls++
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	block := r.block
	profile := r.profiles[userID]
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return nil, errors.New("transient profile storage error")
	}
	return profile, nil
}

func (r *fakeProfileRepo) Upsert(ctx context.Context, tx *gorm.DB, profile *types.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.UserID] = profile
	return nil
}

func (r *fakeProfileRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakePlanRepo struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*types.PlanRecord
	saveErrs int
	saves    int
	gets     int
}

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{records: make(map[uuid.UUID]*types.PlanRecord)}
}

func (r *fakePlanRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PlanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	return r.records[userID], nil
}

func (r *fakePlanRepo) Save(ctx context.Context, tx *gorm.DB, record *types.PlanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErrs > 0 {
		r.saveErrs--
		return errors.New("transient plan storage error")
	}
	r.saves++
	r.records[record.UserID] = record
	return nil
}

func (r *fakePlanRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

type fakeUserRepo struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
	return nil, nil
}

func (r *fakeUserRepo) SetProfileComplete(ctx context.Context, tx *gorm.DB, userID uuid.UUID, complete bool) error {
	return nil
}

func (r *fakeUserRepo) ListEligibleIDs(ctx context.Context, tx *gorm.DB, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	sorted := make([]uuid.UUID, len(r.ids))
	copy(sorted, r.ids)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	out := make([]uuid.UUID, 0, limit)
	for _, id := range sorted {
		if afterID != uuid.Nil && bytes.Compare(id[:], afterID[:]) <= 0 {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeUserRepo) CountEligible(ctx context.Context, tx *gorm.DB) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	return int64(len(r.ids)), nil
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*types.RecomputeRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[uuid.UUID]*types.RecomputeRun)}
}

func (r *fakeRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.RecomputeRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}

func (r *fakeRunRepo) Update(ctx context.Context, tx *gorm.DB, run *types.RecomputeRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}

func (r *fakeRunRepo) GetLatest(ctx context.Context, tx *gorm.DB) (*types.RecomputeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *types.RecomputeRun
	for _, run := range r.runs {
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	return latest, nil
}

func completeProfile(userID uuid.UUID) *types.Profile {
	target := 70.0
	return &types.Profile{
		ID:             uuid.New(),
		UserID:         userID,
		Age:            30,
		Sex:            types.SexMale,
		WeightKg:       75,
		HeightCm:       180,
		ActivityLevel:  types.ActivitySedentary,
		Goal:           types.GoalLoseWeight,
		TargetWeightKg: &target,
	}
}

type planFixture struct {
	profiles *fakeProfileRepo
	plans    *fakePlanRepo
	cache    *cache.PlanCache
	service  PlanService
	cfg      PlanConfig
}

func newPlanFixture(t *testing.T) *planFixture {
	t.Helper()
	log := testLogger(t)
	cfg := DefaultPlanConfig()
	cfg.ComputeWait = 5 * time.Second

	profiles := newFakeProfileRepo()
	plans := newFakePlanRepo()
	store := NewRecordStore(plans, log)
	planCache := cache.New(store, cfg.StalenessWindow, cfg.ComputeWait, log)
	service := NewPlanService(log, planCache, profiles, plans, cfg)

	return &planFixture{
		profiles: profiles,
		plans:    plans,
		cache:    planCache,
		service:  service,
		cfg:      cfg,
	}
}
