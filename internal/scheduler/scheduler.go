package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/internal/tracking"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/metrics"
)

// OrderSyncer refreshes the order cache before a dispatch cycle.
type OrderSyncer interface {
	Sync(ctx context.Context) (*tracking.SyncResult, error)
}

// CandidateResolver computes the pending-call set.
type CandidateResolver interface {
	Resolve(ctx context.Context) ([]calls.Candidate, error)
}

// CallDispatcher places calls for resolved candidates.
type CallDispatcher interface {
	Dispatch(ctx context.Context, candidates []calls.Candidate) calls.Summary
}

// OutcomeReconciler sweeps unfinished attempts against the provider.
type OutcomeReconciler interface {
	ReconcileRecent(ctx context.Context) (*calls.ReconcileResult, error)
}

// LedgerTruncater empties the attempt ledger at the daily reset.
type LedgerTruncater interface {
	DeleteAll(ctx context.Context) (int64, error)
}

// CallableDeleter drops the cached callable orders at the daily reset.
type CallableDeleter interface {
	DeleteCallable(ctx context.Context) (int64, error)
}

// ViewInvalidator drops a cached redis view.
type ViewInvalidator interface {
	InvalidateView(ctx context.Context)
}

// Params wires scheduler dependencies and timetable knobs.
type Params struct {
	Syncer     OrderSyncer
	Resolver   CandidateResolver
	Dispatcher CallDispatcher
	Reconciler OutcomeReconciler
	Attempts   LedgerTruncater
	Orders     CallableDeleter
	OrderViews ViewInvalidator
	CallViews  ViewInvalidator
	Lock       Lock
	Logger     *logger.Logger
	Metrics    *metrics.JobMetrics
	Session    *Session

	CheckInterval     time.Duration
	DispatchTimes     []string
	SyncLead          time.Duration
	DailyResetTime    string
	ReconcileInterval time.Duration
	AllowedHourStart  int
	AllowedHourEnd    int
	Location          *time.Location
}

// CycleResult reports one manually or automatically triggered dispatch cycle.
type CycleResult struct {
	Synced     *tracking.SyncResult `json:"synced,omitempty"`
	Candidates int                  `json:"candidates"`
	Summary    calls.Summary        `json:"summary"`
}

// Status is the control-API view of the scheduler.
type Status struct {
	Running           bool            `json:"running"`
	CycleInProgress   bool            `json:"cycle_in_progress"`
	CheckInterval     string          `json:"check_interval"`
	DispatchTimes     []string        `json:"dispatch_times"`
	PreSyncTimes      []string        `json:"pre_sync_times"`
	DailyResetTime    string          `json:"daily_reset_time"`
	AllowedHours      [2]int          `json:"allowed_hours"`
	ReconcileInterval string          `json:"reconcile_interval"`
	NextRuns          []NextRun       `json:"next_runs"`
	LastCycleAt       *time.Time      `json:"last_cycle_at,omitempty"`
	Session           SessionSnapshot `json:"session"`
}

// NextRun names the next occurrence of a scheduled stage.
type NextRun struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// Scheduler drives the daily call pipeline off a wall-clock timetable. The
// loop checks once per interval and fires stages whose HH:MM has arrived;
// stage failures are logged and never stop the loop.
type Scheduler struct {
	syncer     OrderSyncer
	resolver   CandidateResolver
	dispatcher CallDispatcher
	reconciler OutcomeReconciler
	attempts   LedgerTruncater
	orders     CallableDeleter
	orderViews ViewInvalidator
	callViews  ViewInvalidator
	lock       Lock
	logg       *logger.Logger
	jobMetrics *metrics.JobMetrics
	session    *Session

	checkInterval     time.Duration
	dispatchTimes     []string
	preSyncTimes      []string
	dailyResetTime    string
	reconcileInterval time.Duration
	hourStart         int
	hourEnd           int
	location          *time.Location

	running atomic.Bool
	busy    atomic.Bool

	mu            sync.Mutex
	fired         map[string]bool
	lastReconcile time.Time
	lastCycleAt   *time.Time

	now func() time.Time
}

// New validates dependencies and builds the scheduler.
func New(params Params) (*Scheduler, error) {
	if params.Syncer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order syncer required")
	}
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "resolver required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatcher required")
	}
	if params.Attempts == nil || params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "reset repositories required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.CheckInterval <= 0 {
		params.CheckInterval = time.Minute
	}
	if len(params.DispatchTimes) == 0 {
		params.DispatchTimes = []string{"10:30", "11:00", "12:00", "13:00"}
	}
	if params.SyncLead <= 0 {
		params.SyncLead = 10 * time.Minute
	}
	if params.DailyResetTime == "" {
		params.DailyResetTime = "09:45"
	}
	if params.ReconcileInterval <= 0 {
		params.ReconcileInterval = 10 * time.Minute
	}
	if params.AllowedHourStart <= 0 {
		params.AllowedHourStart = 10
	}
	if params.AllowedHourEnd <= 0 {
		params.AllowedHourEnd = 17
	}
	if params.Location == nil {
		params.Location = time.Local
	}
	if params.Lock == nil {
		params.Lock = noopLock{}
	}
	if params.Session == nil {
		params.Session = NewSession()
	}

	dispatchTimes := append([]string(nil), params.DispatchTimes...)
	sort.Strings(dispatchTimes)
	preSync := make([]string, 0, len(dispatchTimes))
	for _, at := range dispatchTimes {
		clock, err := parseClock(at)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dispatch time")
		}
		preSync = append(preSync, clock.minus(params.SyncLead).String())
	}
	if _, err := parseClock(params.DailyResetTime); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid daily reset time")
	}

	loc := params.Location
	return &Scheduler{
		syncer:            params.Syncer,
		resolver:          params.Resolver,
		dispatcher:        params.Dispatcher,
		reconciler:        params.Reconciler,
		attempts:          params.Attempts,
		orders:            params.Orders,
		orderViews:        params.OrderViews,
		callViews:         params.CallViews,
		lock:              params.Lock,
		logg:              params.Logger,
		jobMetrics:        params.Metrics,
		session:           params.Session,
		checkInterval:     params.CheckInterval,
		dispatchTimes:     dispatchTimes,
		preSyncTimes:      preSync,
		dailyResetTime:    params.DailyResetTime,
		reconcileInterval: params.ReconcileInterval,
		hourStart:         params.AllowedHourStart,
		hourEnd:           params.AllowedHourEnd,
		location:          loc,
		fired:             make(map[string]bool),
		now:               func() time.Time { return time.Now().In(loc) },
	}, nil
}

// Run blocks until the context is canceled, checking the timetable once per
// interval. The timetable only fires while the scheduler is marked running.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.logg.Info(ctx, "scheduler loop starting")
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Start enables the timetable. Safe to call repeatedly.
func (s *Scheduler) Start() {
	if s.running.CompareAndSwap(false, true) {
		s.session.Note("scheduler started")
	}
}

// Stop disables the timetable; the loop keeps ticking so Start can resume it.
func (s *Scheduler) Stop() {
	if s.running.CompareAndSwap(true, false) {
		s.session.Note("scheduler stopped")
	}
}

// Running reports whether the timetable is enabled.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// tick fires every stage whose wall-clock minute has arrived. Each stage runs
// behind a recover guard so one panic cannot kill the loop.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.Load() {
		return
	}
	now := s.now()
	minute := now.Format("15:04")

	if minute == s.dailyResetTime && s.markFired(now, "reset") {
		s.runStage(ctx, "daily_reset", func(ctx context.Context) error {
			return s.runDailyReset(ctx)
		})
	}
	for _, at := range s.preSyncTimes {
		if minute == at && s.markFired(now, "presync:"+at) {
			s.runStage(ctx, "pre_sync", func(ctx context.Context) error {
				_, err := s.syncer.Sync(ctx)
				return err
			})
		}
	}
	for _, at := range s.dispatchTimes {
		if minute == at && s.markFired(now, "dispatch:"+at) {
			s.runStage(ctx, "dispatch_cycle", func(ctx context.Context) error {
				_, err := s.runCycle(ctx, false)
				return err
			})
		}
	}
	if s.reconciler != nil && now.Sub(s.lastReconcileAt()) >= s.reconcileInterval {
		s.setLastReconcile(now)
		s.runStage(ctx, "reconcile", func(ctx context.Context) error {
			_, err := s.reconciler.ReconcileRecent(ctx)
			return err
		})
	}
}

// TriggerCycle runs one dispatch cycle immediately, bypassing the timetable
// and the calling-hours gate but not the single-flight guard.
func (s *Scheduler) TriggerCycle(ctx context.Context) (*CycleResult, error) {
	return s.runCycle(ctx, true)
}

// runCycle is the core pipeline: sync, resolve, dispatch. A sync failure is
// logged and the cycle continues on the existing cache; a resolve failure
// aborts the cycle.
func (s *Scheduler) runCycle(ctx context.Context, force bool) (*CycleResult, error) {
	now := s.now()
	if !force {
		hour := now.Hour()
		if hour < s.hourStart || hour > s.hourEnd {
			s.logg.Info(s.logg.WithField(ctx, "hour", hour), "outside calling hours; skipping cycle")
			return nil, nil
		}
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a dispatch cycle is already running")
	}
	defer s.busy.Store(false)

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire cycle lock")
	}
	if !locked {
		s.logg.Info(ctx, "another instance holds the cycle lock; skipping")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "another instance is dispatching")
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "releasing cycle lock failed", err)
		}
	}()

	result := &CycleResult{}
	synced, err := s.syncer.Sync(ctx)
	if err != nil {
		s.logg.Error(ctx, "pre-dispatch sync failed; dispatching from cached orders", err)
		s.session.Note("sync failed: %v", err)
	} else {
		result.Synced = synced
	}

	candidates, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve pending calls")
	}
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		s.logg.Info(ctx, "no pending calls this cycle")
		s.finishCycle(now)
		return result, nil
	}

	result.Summary = s.dispatcher.Dispatch(ctx, candidates)
	s.invalidateViews(ctx)
	s.finishCycle(now)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"candidates": result.Candidates,
		"placed":     result.Summary.Placed,
		"skipped":    result.Summary.Skipped,
		"failed":     result.Summary.Failed,
	}), "dispatch cycle complete")
	return result, nil
}

// runDailyReset truncates the ledger, drops callable orders, and clears the
// cached views so the day starts empty.
func (s *Scheduler) runDailyReset(ctx context.Context) error {
	attempts, err := s.attempts.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("truncate ledger: %w", err)
	}
	orders, err := s.orders.DeleteCallable(ctx)
	if err != nil {
		return fmt.Errorf("delete callable orders: %w", err)
	}
	s.invalidateViews(ctx)
	s.session.Note("daily reset: %d attempts, %d orders cleared", attempts, orders)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"attempts_deleted": attempts,
		"orders_deleted":   orders,
	}), "daily reset complete")
	return nil
}

// runStage wraps a stage with metrics, logging, and panic recovery.
func (s *Scheduler) runStage(ctx context.Context, name string, fn func(context.Context) error) {
	stageCtx := s.logg.WithField(ctx, "job", name)
	start := time.Now()
	err := s.safeRun(stageCtx, fn)
	s.jobMetrics.ObserveDuration(name, time.Since(start))
	if err != nil {
		s.jobMetrics.IncFailure(name)
		s.logg.Error(stageCtx, "scheduled stage failed", err)
		return
	}
	s.jobMetrics.IncSuccess(name)
	s.logg.Info(stageCtx, "scheduled stage complete")
}

func (s *Scheduler) safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Status reports the timetable, next runs, and the live session snapshot.
func (s *Scheduler) Status() Status {
	now := s.now()
	status := Status{
		Running:           s.running.Load(),
		CycleInProgress:   s.busy.Load(),
		CheckInterval:     s.checkInterval.String(),
		DispatchTimes:     append([]string(nil), s.dispatchTimes...),
		PreSyncTimes:      append([]string(nil), s.preSyncTimes...),
		DailyResetTime:    s.dailyResetTime,
		AllowedHours:      [2]int{s.hourStart, s.hourEnd},
		ReconcileInterval: s.reconcileInterval.String(),
		Session:           s.session.Snapshot(),
	}
	status.NextRuns = append(status.NextRuns, NextRun{Stage: "daily_reset", At: nextOccurrence(now, s.dailyResetTime)})
	for _, at := range s.dispatchTimes {
		status.NextRuns = append(status.NextRuns, NextRun{Stage: "dispatch", At: nextOccurrence(now, at)})
	}
	sort.Slice(status.NextRuns, func(i, j int) bool { return status.NextRuns[i].At.Before(status.NextRuns[j].At) })

	s.mu.Lock()
	if s.lastCycleAt != nil {
		last := *s.lastCycleAt
		status.LastCycleAt = &last
	}
	s.mu.Unlock()
	return status
}

func (s *Scheduler) finishCycle(now time.Time) {
	s.mu.Lock()
	s.lastCycleAt = &now
	s.mu.Unlock()
}

// markFired dedups stages to one run per calendar minute.
func (s *Scheduler) markFired(now time.Time, stage string) bool {
	key := now.Format("2006-01-02 15:04") + "|" + stage
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired[key] {
		return false
	}
	// Trim stale entries from previous days.
	prefix := now.Format("2006-01-02")
	for k := range s.fired {
		if !strings.HasPrefix(k, prefix) {
			delete(s.fired, k)
		}
	}
	s.fired[key] = true
	return true
}

func (s *Scheduler) lastReconcileAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReconcile
}

func (s *Scheduler) setLastReconcile(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReconcile = at
}

func (s *Scheduler) invalidateViews(ctx context.Context) {
	if s.orderViews != nil {
		s.orderViews.InvalidateView(ctx)
	}
	if s.callViews != nil {
		s.callViews.InvalidateView(ctx)
	}
}

// clock is a parsed HH:MM wall-clock time.
type clock struct {
	hour   int
	minute int
}

func (c clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.hour, c.minute)
}

func (c clock) minus(d time.Duration) clock {
	total := c.hour*60 + c.minute - int(d.Minutes())
	for total < 0 {
		total += 24 * 60
	}
	return clock{hour: (total / 60) % 24, minute: total % 60}
}

func parseClock(value string) (clock, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return clock{}, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return clock{}, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return clock{}, fmt.Errorf("invalid minute in %q", value)
	}
	return clock{hour: hour, minute: minute}, nil
}

// nextOccurrence returns the next time the HH:MM value comes around.
func nextOccurrence(now time.Time, value string) time.Time {
	c, err := parseClock(value)
	if err != nil {
		return now
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), c.hour, c.minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
