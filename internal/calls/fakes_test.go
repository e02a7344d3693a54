package calls

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/pagination"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard})
}

// fakeAttemptRepo satisfies Repository in memory. CalledAWBsSince answers the
// cooldown set for windows inside the day and the called-today set otherwise.
type fakeAttemptRepo struct {
	dayStart     time.Time
	successAWBs  []string
	cooldownAWBs []string
	calledAWBs   []string
	latest       []models.CallAttempt
	unfinished   []models.CallAttempt
	byCallID     map[string]*models.CallAttempt
	countByAWB   map[string]int64
	created      []models.CallAttempt
	saved        []models.CallAttempt
	createErr    error
	totalCost    decimal.Decimal
	listItems    []models.CallAttempt
	listCursor   *pagination.Cursor
	listCalls    int
}

func (f *fakeAttemptRepo) WithTx(*gorm.DB) Repository { return f }

func (f *fakeAttemptRepo) Create(_ context.Context, attempt *models.CallAttempt) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *attempt)
	if f.countByAWB == nil {
		f.countByAWB = map[string]int64{}
	}
	f.countByAWB[attempt.AWB]++
	return nil
}

func (f *fakeAttemptRepo) Save(_ context.Context, attempt *models.CallAttempt) error {
	f.saved = append(f.saved, *attempt)
	return nil
}

func (f *fakeAttemptRepo) GetByCallID(_ context.Context, callID string) (*models.CallAttempt, error) {
	if attempt, ok := f.byCallID[callID]; ok {
		return attempt, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttemptRepo) List(context.Context, ListAttemptsParams) ([]models.CallAttempt, *pagination.Cursor, error) {
	f.listCalls++
	return f.listItems, f.listCursor, nil
}

func (f *fakeAttemptRepo) LatestPerAWBSince(context.Context, time.Time) ([]models.CallAttempt, error) {
	return f.latest, nil
}

func (f *fakeAttemptRepo) SuccessfulAWBsSince(context.Context, time.Time) ([]string, error) {
	return f.successAWBs, nil
}

func (f *fakeAttemptRepo) CalledAWBsSince(_ context.Context, since time.Time) ([]string, error) {
	if since.After(f.dayStart) {
		return f.cooldownAWBs, nil
	}
	return f.calledAWBs, nil
}

func (f *fakeAttemptRepo) CountForAWBSince(_ context.Context, awb string, _ time.Time) (int64, error) {
	return f.countByAWB[awb], nil
}

func (f *fakeAttemptRepo) ListUnfinishedSince(context.Context, time.Time) ([]models.CallAttempt, error) {
	return f.unfinished, nil
}

func (f *fakeAttemptRepo) TotalCostSince(context.Context, time.Time) (decimal.Decimal, error) {
	return f.totalCost, nil
}

func (f *fakeAttemptRepo) DeleteAll(context.Context) (int64, error) {
	deleted := int64(len(f.created))
	f.created = nil
	return deleted, nil
}

// fakeOrderStore satisfies orders.Repository for resolver and service tests.
type fakeOrderStore struct {
	callable []models.Order
	byAWB    map[string]*models.Order
}

func (f *fakeOrderStore) WithTx(*gorm.DB) orders.Repository { return f }

func (f *fakeOrderStore) GetByAWB(_ context.Context, awb string) (*models.Order, error) {
	if order, ok := f.byAWB[awb]; ok {
		return order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrderStore) ListByAWBs(context.Context, []string) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ListCallable(context.Context) ([]models.Order, error) {
	return f.callable, nil
}

func (f *fakeOrderStore) CountCallable(context.Context) (int64, error) {
	return int64(len(f.callable)), nil
}

func (f *fakeOrderStore) CreateBatch(context.Context, []models.Order) error { return nil }

func (f *fakeOrderStore) Save(context.Context, *models.Order) error { return nil }

func (f *fakeOrderStore) DeleteCallable(context.Context) (int64, error) { return 0, nil }

func (f *fakeOrderStore) DeleteByIDs(context.Context, []string) (int64, error) { return 0, nil }

// fakeVoice scripts CreateCall responses per phone number.
type fakeVoice struct {
	calls    []vapi.CreateCallRequest
	failFor  map[string]bool
	sequence int
}

func (f *fakeVoice) CreateCall(_ context.Context, req vapi.CreateCallRequest) (*vapi.Call, error) {
	f.calls = append(f.calls, req)
	if f.failFor[req.CustomerNumber] {
		return nil, errors.New("provider rejected call")
	}
	f.sequence++
	created := time.Date(2026, 8, 20, 11, 0, f.sequence, 0, time.UTC)
	return &vapi.Call{
		ID:        "call-" + req.Variables["awb"],
		Status:    "queued",
		Type:      "outboundPhoneCall",
		CreatedAt: &created,
	}, nil
}

// fakeFetcher scripts GetCall and ListCalls for recorder tests.
type fakeFetcher struct {
	byID     map[string]*vapi.Call
	pages    [][]vapi.Call
	pageIdx  int
	listErr  error
	getCalls []string
}

func (f *fakeFetcher) GetCall(_ context.Context, callID string) (*vapi.Call, error) {
	f.getCalls = append(f.getCalls, callID)
	if call, ok := f.byID[callID]; ok {
		return call, nil
	}
	return nil, errors.New("call not found upstream")
}

func (f *fakeFetcher) ListCalls(context.Context, int, time.Time) ([]vapi.Call, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.pageIdx >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

// recordingObserver captures dispatch notifications in order.
type recordingObserver struct {
	started  int
	placed   []string
	skipped  []string
	failed   []string
	finished *Summary
}

func (r *recordingObserver) SessionStarted(total int) { r.started = total }
func (r *recordingObserver) CallStarted(Candidate)    {}
func (r *recordingObserver) CallPlaced(_ Candidate, callID string) {
	r.placed = append(r.placed, callID)
}
func (r *recordingObserver) CallSkipped(candidate Candidate, _ string) {
	r.skipped = append(r.skipped, candidate.AWB)
}
func (r *recordingObserver) CallFailed(candidate Candidate, _ error) {
	r.failed = append(r.failed, candidate.AWB)
}
func (r *recordingObserver) SessionFinished(summary Summary) { r.finished = &summary }
