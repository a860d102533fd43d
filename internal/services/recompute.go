package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/repos"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

// RecomputeService walks the whole eligible population in pages, forcing a
// recompute per user with bounded concurrency. One run at a time; per-user
// failures are recorded, never fatal. Only an enumeration failure fails the
// run.
type RecomputeService interface {
	// Trigger starts a run and returns its initial snapshot. A duplicate
	// trigger returns the live snapshot with ErrJobAlreadyRunning.
	Trigger(ctx context.Context) (*types.RecomputeRun, error)
	// Status returns the live snapshot while running, otherwise the most
	// recently finished run (nil if none exists).
	Status(ctx context.Context) (*types.RecomputeRun, error)
	// Cancel requests a cooperative stop at the next page boundary.
	Cancel()
}

type runState struct {
	id        uuid.UUID
	startedAt time.Time
	total     atomic.Int64
	success   atomic.Int64
	errs      atomic.Int64

	mu        sync.Mutex
	updates   []types.SignificantUpdate
	lastError string
}

func (st *runState) recordError(err error) {
	st.errs.Add(1)
	st.mu.Lock()
	st.lastError = err.Error()
	st.mu.Unlock()
}

func (st *runState) appendUpdate(u types.SignificantUpdate) {
	st.mu.Lock()
	st.updates = append(st.updates, u)
	st.mu.Unlock()
}

func (st *runState) snapshot(status types.RunStatus, finishedAt *time.Time) *types.RecomputeRun {
	st.mu.Lock()
	updates := make([]types.SignificantUpdate, len(st.updates))
	copy(updates, st.updates)
	lastError := st.lastError
	st.mu.Unlock()

	run := &types.RecomputeRun{
		ID:           st.id,
		Status:       status,
		StartedAt:    st.startedAt,
		FinishedAt:   finishedAt,
		TotalUsers:   st.total.Load(),
		SuccessCount: st.success.Load(),
		ErrorCount:   st.errs.Load(),
		LastError:    lastError,
	}
	_ = run.SetUpdates(updates)
	return run
}

type recomputeService struct {
	log     *logger.Logger
	plans   PlanService
	users   repos.UserRepo
	runs    repos.RecomputeRunRepo
	planCfg PlanConfig
	cfg     BatchConfig

	mu           sync.Mutex
	running      bool
	current      *runState
	cancelRun    context.CancelFunc
	lastFinished *types.RecomputeRun
}

func NewRecomputeService(baseLog *logger.Logger, plans PlanService, users repos.UserRepo, runs repos.RecomputeRunRepo, planCfg PlanConfig, cfg BatchConfig) RecomputeService {
	if cfg.PageSize < 1 {
		cfg.PageSize = 1000
	}
	if cfg.Workers < 1 {
		cfg.Workers = 10
	}
	return &recomputeService{
		log:     baseLog.With("service", "RecomputeService"),
		plans:   plans,
		users:   users,
		runs:    runs,
		planCfg: planCfg,
		cfg:     cfg,
	}
}

func (rs *recomputeService) Trigger(ctx context.Context) (*types.RecomputeRun, error) {
	rs.mu.Lock()
	if rs.running {
		snap := rs.current.snapshot(types.RunStatusRunning, nil)
		rs.mu.Unlock()
		return snap, ErrJobAlreadyRunning
	}

	state := &runState{id: uuid.New(), startedAt: time.Now().UTC()}
	// The run outlives the triggering request; cancellation is cooperative
	// via Cancel, checked at page boundaries.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rs.running = true
	rs.current = state
	rs.cancelRun = cancel
	rs.mu.Unlock()

	initial := state.snapshot(types.RunStatusRunning, nil)
	if err := rs.runs.Create(runCtx, nil, initial); err != nil {
		rs.log.Warn("Could not persist run start", "run_id", state.id, "error", err)
	}

	go rs.execute(runCtx, state)

	return initial, nil
}

func (rs *recomputeService) Status(ctx context.Context) (*types.RecomputeRun, error) {
	rs.mu.Lock()
	if rs.running {
		snap := rs.current.snapshot(types.RunStatusRunning, nil)
		rs.mu.Unlock()
		return snap, nil
	}
	last := rs.lastFinished
	rs.mu.Unlock()
	if last != nil {
		return last, nil
	}
	return rs.runs.GetLatest(ctx, nil)
}

func (rs *recomputeService) Cancel() {
	rs.mu.Lock()
	cancel := rs.cancelRun
	rs.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (rs *recomputeService) execute(ctx context.Context, state *runState) {
	rs.log.Info("Batch recompute starting", "run_id", state.id)

	total, err := rs.users.CountEligible(ctx, nil)
	if err != nil {
		rs.finish(ctx, state, types.RunStatusFailed, fmt.Errorf("enumerate eligible users: %w", err))
		return
	}
	state.total.Store(total)

	afterID := uuid.Nil
	cancelled := false
	for {
		// Cooperative cancellation between pages; in-flight work within a
		// page runs to completion so per-key flights are never abandoned.
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		ids, err := rs.users.ListEligibleIDs(ctx, nil, afterID, rs.cfg.PageSize)
		if err != nil {
			rs.finish(ctx, state, types.RunStatusFailed, fmt.Errorf("enumerate page after %s: %w", afterID, err))
			return
		}
		if len(ids) == 0 {
			break
		}

		g := new(errgroup.Group)
		g.SetLimit(rs.cfg.Workers)
		for _, userID := range ids {
			userID := userID
			g.Go(func() error {
				rs.recomputeOne(ctx, state, userID)
				return nil
			})
		}
		_ = g.Wait()

		afterID = ids[len(ids)-1]
		if len(ids) < rs.cfg.PageSize {
			break
		}
	}

	if cancelled {
		state.mu.Lock()
		state.lastError = "cancelled at page boundary"
		state.mu.Unlock()
	}
	rs.finish(ctx, state, types.RunStatusCompleted, nil)
}

// recomputeOne isolates a single user: any error, including a panic, is
// counted and never cancels sibling work.
func (rs *recomputeService) recomputeOne(ctx context.Context, state *runState, userID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			rs.log.Error("Recompute panic", "run_id", state.id, "user_id", userID, "panic", r)
			state.recordError(fmt.Errorf("panic: %v", r))
		}
	}()

	record, err := rs.plans.GetPlan(ctx, userID, true)
	if err != nil {
		rs.log.Debug("Recompute failed for user", "run_id", state.id, "user_id", userID, "error", err)
		state.recordError(err)
		return
	}
	state.success.Add(1)

	prevTargets, err := record.DecodePreviousTargets()
	if err != nil || prevTargets == nil {
		return
	}
	newTargets, err := record.DecodeTargets()
	if err != nil {
		return
	}
	reason := rs.planCfg.SignificanceReason(*prevTargets, newTargets)
	if reason == "" {
		return
	}
	state.appendUpdate(types.SignificantUpdate{
		UserID:       userID,
		PrevCalorie:  prevTargets.CalorieTarget,
		NewCalorie:   newTargets.CalorieTarget,
		PrevProteinG: prevTargets.ProteinTargetG,
		NewProteinG:  newTargets.ProteinTargetG,
		Reason:       reason,
	})
}

func (rs *recomputeService) finish(ctx context.Context, state *runState, status types.RunStatus, cause error) {
	if cause != nil {
		state.mu.Lock()
		state.lastError = cause.Error()
		state.mu.Unlock()
		rs.log.Error("Batch recompute failed", "run_id", state.id, "error", cause)
	}

	now := time.Now().UTC()
	final := state.snapshot(status, &now)
	if err := rs.runs.Update(context.WithoutCancel(ctx), nil, final); err != nil {
		rs.log.Warn("Could not persist run result", "run_id", state.id, "error", err)
	}

	rs.mu.Lock()
	rs.running = false
	rs.current = nil
	rs.cancelRun = nil
	rs.lastFinished = final
	rs.mu.Unlock()

	rs.log.Info("Batch recompute finished",
		"run_id", state.id,
		"status", status,
		"total", final.TotalUsers,
		"success", final.SuccessCount,
		"errors", final.ErrorCount,
	)
}
