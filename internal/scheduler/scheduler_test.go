package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/internal/tracking"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard})
}

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) Sync(context.Context) (*tracking.SyncResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &tracking.SyncResult{Fetched: 5, Matched: 3}, nil
}

type fakeResolver struct {
	candidates []calls.Candidate
	err        error
}

func (f *fakeResolver) Resolve(context.Context) ([]calls.Candidate, error) {
	return f.candidates, f.err
}

type fakePipelineDispatcher struct {
	calls int
	got   [][]calls.Candidate
}

func (f *fakePipelineDispatcher) Dispatch(_ context.Context, candidates []calls.Candidate) calls.Summary {
	f.calls++
	f.got = append(f.got, candidates)
	return calls.Summary{Total: len(candidates), Completed: len(candidates), Placed: len(candidates)}
}

type fakeReconciler struct{ calls int }

func (f *fakeReconciler) ReconcileRecent(context.Context) (*calls.ReconcileResult, error) {
	f.calls++
	return &calls.ReconcileResult{}, nil
}

type fakeTruncater struct{ calls int }

func (f *fakeTruncater) DeleteAll(context.Context) (int64, error) {
	f.calls++
	return 7, nil
}

type fakeDeleter struct{ calls int }

func (f *fakeDeleter) DeleteCallable(context.Context) (int64, error) {
	f.calls++
	return 4, nil
}

type fakeViews struct{ invalidations int }

func (f *fakeViews) InvalidateView(context.Context) { f.invalidations++ }

type fakeLock struct {
	acquired bool
	denied   bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.denied {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.releases++
	return nil
}

type fixture struct {
	scheduler  *Scheduler
	syncer     *fakeSyncer
	resolver   *fakeResolver
	dispatcher *fakePipelineDispatcher
	reconciler *fakeReconciler
	truncater  *fakeTruncater
	deleter    *fakeDeleter
	views      *fakeViews
	lock       *fakeLock
}

func newFixture(t *testing.T, at time.Time, mutate func(*Params)) *fixture {
	t.Helper()
	f := &fixture{
		syncer:     &fakeSyncer{},
		resolver:   &fakeResolver{candidates: []calls.Candidate{{AWB: "AWB-1", CustomerPhone: "9876543210"}}},
		dispatcher: &fakePipelineDispatcher{},
		reconciler: &fakeReconciler{},
		truncater:  &fakeTruncater{},
		deleter:    &fakeDeleter{},
		views:      &fakeViews{},
		lock:       &fakeLock{},
	}
	params := Params{
		Syncer:           f.syncer,
		Resolver:         f.resolver,
		Dispatcher:       f.dispatcher,
		Reconciler:       f.reconciler,
		Attempts:         f.truncater,
		Orders:           f.deleter,
		OrderViews:       f.views,
		CallViews:        f.views,
		Lock:             f.lock,
		Logger:           testLogger(),
		DispatchTimes:    []string{"10:30", "11:00"},
		DailyResetTime:   "09:45",
		AllowedHourStart: 10,
		AllowedHourEnd:   17,
		Location:         time.UTC,
	}
	if mutate != nil {
		mutate(&params)
	}
	s, err := New(params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return at }
	f.scheduler = s
	return f
}

func TestTriggerCycle_RunsPipeline(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), nil)

	result, err := f.scheduler.TriggerCycle(context.Background())
	if err != nil {
		t.Fatalf("TriggerCycle: %v", err)
	}
	if f.syncer.calls != 1 || f.dispatcher.calls != 1 {
		t.Errorf("pipeline = sync %d / dispatch %d, want 1/1", f.syncer.calls, f.dispatcher.calls)
	}
	if result.Candidates != 1 || result.Summary.Placed != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Synced == nil || result.Synced.Fetched != 5 {
		t.Errorf("sync result not propagated: %+v", result.Synced)
	}
	if f.views.invalidations == 0 {
		t.Errorf("views not invalidated after dispatch")
	}
	if f.lock.releases != 1 {
		t.Errorf("lock released %d times, want 1", f.lock.releases)
	}
}

func TestTriggerCycle_BypassesCallingHours(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 21, 0, 0, 0, time.UTC), nil)

	if _, err := f.scheduler.TriggerCycle(context.Background()); err != nil {
		t.Fatalf("TriggerCycle: %v", err)
	}
	if f.dispatcher.calls != 1 {
		t.Errorf("manual trigger must ignore the hours gate")
	}
}

func TestTick_DispatchRespectsCallingHours(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 18, 30, 0, 0, time.UTC), func(p *Params) {
		p.DispatchTimes = []string{"18:30"}
	})
	f.scheduler.Start()

	f.scheduler.tick(context.Background())
	if f.dispatcher.calls != 0 {
		t.Errorf("dispatch ran outside calling hours")
	}
}

func TestTriggerCycle_SingleFlight(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), nil)
	f.scheduler.busy.Store(true)

	_, err := f.scheduler.TriggerCycle(context.Background())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
	if f.dispatcher.calls != 0 {
		t.Errorf("second cycle must not dispatch")
	}
}

func TestTriggerCycle_LockHeldElsewhere(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), nil)
	f.lock.denied = true

	_, err := f.scheduler.TriggerCycle(context.Background())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
	if f.dispatcher.calls != 0 {
		t.Errorf("dispatch must wait for the lock")
	}
}

func TestTriggerCycle_SyncFailureStillDispatches(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), nil)
	f.syncer.err = errors.New("carrier down")

	result, err := f.scheduler.TriggerCycle(context.Background())
	if err != nil {
		t.Fatalf("TriggerCycle: %v", err)
	}
	if f.dispatcher.calls != 1 {
		t.Errorf("cycle must continue on cached orders when sync fails")
	}
	if result.Synced != nil {
		t.Errorf("failed sync must not report a result")
	}
}

func TestTriggerCycle_ResolveFailureAborts(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), nil)
	f.resolver.err = errors.New("db down")

	if _, err := f.scheduler.TriggerCycle(context.Background()); err == nil {
		t.Fatal("expected resolve failure to abort the cycle")
	}
	if f.dispatcher.calls != 0 {
		t.Errorf("dispatch must not run without candidates")
	}
}

func TestTick_DailyResetFiresOncePerMinute(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 9, 45, 0, 0, time.UTC), nil)
	f.scheduler.Start()

	f.scheduler.tick(context.Background())
	f.scheduler.tick(context.Background())

	if f.truncater.calls != 1 || f.deleter.calls != 1 {
		t.Errorf("reset fired %d/%d times, want once", f.truncater.calls, f.deleter.calls)
	}
	if f.views.invalidations == 0 {
		t.Errorf("reset must drop cached views")
	}
}

func TestTick_PreSyncLeadsDispatch(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 10, 20, 0, 0, time.UTC), nil)
	f.scheduler.Start()

	f.scheduler.tick(context.Background())
	if f.syncer.calls != 1 {
		t.Errorf("pre-sync at 10:20 should fire for 10:30 dispatch, got %d syncs", f.syncer.calls)
	}
	if f.dispatcher.calls != 0 {
		t.Errorf("dispatch must not fire at pre-sync time")
	}
}

func TestTick_DispatchAtScheduledTime(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC), nil)
	f.scheduler.Start()

	f.scheduler.tick(context.Background())
	if f.dispatcher.calls != 1 {
		t.Errorf("dispatch should fire at 10:30, got %d", f.dispatcher.calls)
	}
}

func TestTick_DisabledSchedulerStaysQuiet(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC), nil)

	f.scheduler.tick(context.Background())
	if f.dispatcher.calls != 0 || f.syncer.calls != 0 || f.reconciler.calls != 0 {
		t.Errorf("stopped scheduler must not fire stages")
	}
}

func TestTick_ReconcileInterval(t *testing.T) {
	f := newFixture(t, time.Date(2026, 8, 20, 12, 1, 0, 0, time.UTC), func(p *Params) {
		p.ReconcileInterval = 10 * time.Minute
	})
	f.scheduler.Start()

	f.scheduler.tick(context.Background())
	f.scheduler.tick(context.Background())
	if f.reconciler.calls != 1 {
		t.Errorf("reconcile fired %d times inside one interval, want 1", f.reconciler.calls)
	}

	f.scheduler.now = func() time.Time { return time.Date(2026, 8, 20, 12, 12, 0, 0, time.UTC) }
	f.scheduler.tick(context.Background())
	if f.reconciler.calls != 2 {
		t.Errorf("reconcile should fire again after the interval, got %d", f.reconciler.calls)
	}
}

func TestStatus_ReportsTimetable(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	f.scheduler.Start()

	status := f.scheduler.Status()
	if !status.Running {
		t.Errorf("status.Running = false after Start")
	}
	if len(status.PreSyncTimes) != 2 || status.PreSyncTimes[0] != "10:20" {
		t.Errorf("pre-sync times = %v", status.PreSyncTimes)
	}
	if len(status.NextRuns) == 0 {
		t.Fatalf("no next runs reported")
	}
	first := status.NextRuns[0]
	if first.Stage != "dispatch" || !first.At.Equal(time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("first next run = %+v", first)
	}
	if !status.NextRuns[len(status.NextRuns)-1].At.After(now) {
		t.Errorf("next runs must all be in the future")
	}
}

func TestParseClockAndMinus(t *testing.T) {
	cases := []struct {
		in      string
		lead    time.Duration
		want    string
		wantErr bool
	}{
		{in: "10:30", lead: 10 * time.Minute, want: "10:20"},
		{in: "00:05", lead: 10 * time.Minute, want: "23:55"},
		{in: "13:00", lead: time.Hour, want: "12:00"},
		{in: "25:00", wantErr: true},
		{in: "10:61", wantErr: true},
		{in: "oops", wantErr: true},
	}
	for _, tc := range cases {
		c, err := parseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseClock(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseClock(%q): %v", tc.in, err)
			continue
		}
		if got := c.minus(tc.lead).String(); got != tc.want {
			t.Errorf("%s - %s = %s, want %s", tc.in, tc.lead, got, tc.want)
		}
	}
}

func TestSession_TracksDispatchProgress(t *testing.T) {
	session := NewSession()
	session.SessionStarted(3)
	session.CallStarted(calls.Candidate{AWB: "AWB-1"})
	session.CallPlaced(calls.Candidate{AWB: "AWB-1"}, "call-1")
	session.CallSkipped(calls.Candidate{AWB: "AWB-2"}, "invalid phone")
	session.CallFailed(calls.Candidate{AWB: "AWB-3"}, errors.New("provider down"))
	session.SessionFinished(calls.Summary{Placed: 1, Skipped: 1, Failed: 1})

	snapshot := session.Snapshot()
	if snapshot.Active {
		t.Errorf("session still active after finish")
	}
	if snapshot.Placed != 1 || snapshot.Skipped != 1 || snapshot.Failed != 1 || snapshot.Completed != 3 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if len(snapshot.Logs) == 0 {
		t.Errorf("no session logs recorded")
	}
}

func TestSession_LogRingCaps(t *testing.T) {
	session := NewSession()
	for i := 0; i < 50; i++ {
		session.Note("line %d", i)
	}
	snapshot := session.Snapshot()
	if len(snapshot.Logs) != logRingSize {
		t.Errorf("ring size = %d, want %d", len(snapshot.Logs), logRingSize)
	}
	if snapshot.Logs[len(snapshot.Logs)-1][9:] != "line 49" {
		t.Errorf("last line = %q", snapshot.Logs[len(snapshot.Logs)-1])
	}
}

type fakeRedisStore struct {
	values map[string]string
}

func (f *fakeRedisStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if f.values == nil {
		f.values = map[string]string{}
	}
	if _, held := f.values[key]; held {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeRedisStore) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeRedisStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	store := &fakeRedisStore{}
	first, err := NewRedisLock(store, "sv:lock:cycle", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, err := NewRedisLock(store, "sv:lock:cycle", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v)", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire = (%v, %v), want denied", ok, err)
	}

	// A non-owner release must not free the lock.
	if err := second.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	ok, _ = second.Acquire(ctx)
	if ok {
		t.Fatal("lock freed by non-owner release")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release = (%v, %v)", ok, err)
	}
}
