package calls

import (
	"context"
	"testing"
	"time"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/enums"
)

func testOrder(awb, phone string) models.Order {
	return models.Order{
		AWB:           awb,
		CustomerName:  "Asha",
		CustomerPhone: phone,
		Category:      enums.OrderCategoryOutForDelivery,
		CurrentStatus: "Out For Delivery",
		CODAmount:     "499",
	}
}

func newTestResolver(t *testing.T, attempts *fakeAttemptRepo, store *fakeOrderStore, at time.Time) Resolver {
	t.Helper()
	res, err := NewResolver(ResolverParams{
		Orders:   store,
		Attempts: attempts,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	res.(*resolver).now = func() time.Time { return at }
	return res
}

func TestResolve_FreshOrdersBecomeNotYetCalled(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	attempts := &fakeAttemptRepo{dayStart: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)}
	store := &fakeOrderStore{callable: []models.Order{testOrder("AWB-1", "9876543210"), testOrder("AWB-2", "9876543211")}}

	pending, err := newTestResolver(t, attempts, store, now).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for _, candidate := range pending {
		if candidate.Reason != enums.CallReasonNotYetCalled {
			t.Errorf("candidate %s reason = %s, want not_yet_called", candidate.AWB, candidate.Reason)
		}
	}
}

func TestResolve_ExcludesSuccessCooldownAndCalledToday(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	attempts := &fakeAttemptRepo{
		dayStart:     time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		successAWBs:  []string{"AWB-DONE"},
		cooldownAWBs: []string{"AWB-RECENT"},
		calledAWBs:   []string{"AWB-DONE", "AWB-RECENT", "AWB-EARLIER"},
	}
	store := &fakeOrderStore{callable: []models.Order{
		testOrder("AWB-DONE", "9876543210"),
		testOrder("AWB-RECENT", "9876543211"),
		testOrder("AWB-EARLIER", "9876543212"),
		testOrder("AWB-FRESH", "9876543213"),
	}}

	pending, err := newTestResolver(t, attempts, store, now).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(pending) != 1 || pending[0].AWB != "AWB-FRESH" {
		t.Fatalf("pending = %+v, want only AWB-FRESH", pending)
	}
}

func TestResolve_RetriesFailedAttemptsWithinBudget(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	order := testOrder("AWB-RETRY", "9876543210")
	exhausted := testOrder("AWB-SPENT", "9876543211")
	attempts := &fakeAttemptRepo{
		dayStart:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		calledAWBs: []string{"AWB-RETRY", "AWB-SPENT"},
		latest: []models.CallAttempt{
			{AWB: "AWB-RETRY", CustomerName: "Asha", CustomerPhone: "9876543210", Category: enums.OrderCategoryOutForDelivery, NeedsRetry: true, RetryIndex: 1, EndedReason: "customer-busy"},
			{AWB: "AWB-SPENT", CustomerPhone: "9876543211", NeedsRetry: true, RetryIndex: 3, EndedReason: "no-answer"},
		},
	}
	store := &fakeOrderStore{
		callable: []models.Order{order, exhausted},
		byAWB:    map[string]*models.Order{"AWB-RETRY": &order, "AWB-SPENT": &exhausted},
	}

	pending, err := newTestResolver(t, attempts, store, now).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v, want one retry candidate", pending)
	}
	got := pending[0]
	if got.AWB != "AWB-RETRY" || got.Reason != enums.CallReasonRetryNeeded {
		t.Fatalf("candidate = %+v, want retry for AWB-RETRY", got)
	}
	if got.RetryCount != 1 || got.LastEndedReason != "customer-busy" {
		t.Errorf("retry metadata = (%d, %s), want (1, customer-busy)", got.RetryCount, got.LastEndedReason)
	}
	if got.CODAmount != "499" {
		t.Errorf("cod amount not refreshed from order: %q", got.CODAmount)
	}
}

func TestResolve_RetrySkippedWhenOrderGone(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	attempts := &fakeAttemptRepo{
		dayStart:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		calledAWBs: []string{"AWB-GONE"},
		latest: []models.CallAttempt{
			{AWB: "AWB-GONE", NeedsRetry: true, RetryIndex: 0, EndedReason: "customer-busy"},
		},
	}
	store := &fakeOrderStore{}

	pending, err := newTestResolver(t, attempts, store, now).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want empty", pending)
	}
}

func TestResolve_NoDuplicateAWBs(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	order := testOrder("AWB-1", "9876543210")
	attempts := &fakeAttemptRepo{
		dayStart:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		calledAWBs: []string{"AWB-1"},
		latest: []models.CallAttempt{
			{AWB: "AWB-1", CustomerPhone: "9876543210", NeedsRetry: true, RetryIndex: 0, EndedReason: "customer-busy"},
		},
	}
	store := &fakeOrderStore{
		callable: []models.Order{order},
		byAWB:    map[string]*models.Order{"AWB-1": &order},
	}

	pending, err := newTestResolver(t, attempts, store, now).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	seen := map[string]int{}
	for _, candidate := range pending {
		seen[candidate.AWB]++
	}
	for awb, count := range seen {
		if count > 1 {
			t.Errorf("awb %s appears %d times", awb, count)
		}
	}
	if len(pending) != 1 || pending[0].Reason != enums.CallReasonRetryNeeded {
		t.Fatalf("pending = %+v, want single retry candidate", pending)
	}
}
