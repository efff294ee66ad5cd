package campaign

import (
	"context"
	"testing"
	"time"

	"voicecampaign-platform/internal/dispatch"
	"voicecampaign-platform/internal/schedule"
)

type fakeStore struct {
	campaign Campaign
	getErr   error

	transitions []string
	claimable   []Recipient
	claimed     int

	calling  map[string]string // recipient id -> provider call id
	outcomes map[string]RecipientStatus
	released []string
	skipped  int

	counters CounterDelta
	pending  int
	active   int
	drained  bool
}

func newFakeStore(c Campaign) *fakeStore {
	return &fakeStore{
		campaign: c,
		calling:  map[string]string{},
		outcomes: map[string]RecipientStatus{},
	}
}

func (f *fakeStore) GetCampaign(ctx context.Context, workspaceID, id string) (Campaign, error) {
	if f.getErr != nil {
		return Campaign{}, f.getErr
	}
	return f.campaign, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, workspaceID, id string, to CampaignStatus, from ...CampaignStatus) error {
	for _, s := range from {
		if f.campaign.Status == s {
			f.campaign.Status = to
			f.transitions = append(f.transitions, string(to))
			return nil
		}
	}
	return ErrInvalidTransition
}

func (f *fakeStore) ClaimPending(ctx context.Context, workspaceID, campaignID string, limit int) ([]Recipient, error) {
	n := limit
	if n > len(f.claimable) {
		n = len(f.claimable)
	}
	out := f.claimable[:n]
	f.claimable = f.claimable[n:]
	f.claimed += n
	return out, nil
}

func (f *fakeStore) ReleaseToPending(ctx context.Context, workspaceID string, recipientIDs []string) error {
	f.released = append(f.released, recipientIDs...)
	return nil
}

func (f *fakeStore) SkipRemaining(ctx context.Context, workspaceID, campaignID, reason string) (int, error) {
	n := len(f.claimable)
	f.claimable = nil
	f.skipped += n
	return n, nil
}

func (f *fakeStore) MarkCalling(ctx context.Context, workspaceID, recipientID, providerCallID string, attempts int) error {
	f.calling[recipientID] = providerCallID
	return nil
}

func (f *fakeStore) MarkOutcome(ctx context.Context, workspaceID, recipientID string, status RecipientStatus, lastError string, attempts int) (bool, error) {
	if _, done := f.outcomes[recipientID]; done {
		return false, nil
	}
	f.outcomes[recipientID] = status
	return true, nil
}

func (f *fakeStore) IncrementCounters(ctx context.Context, workspaceID, campaignID string, d CounterDelta) error {
	f.counters.Completed += d.Completed
	f.counters.Failed += d.Failed
	f.counters.Skipped += d.Skipped
	return nil
}

func (f *fakeStore) CompleteIfDrained(ctx context.Context, workspaceID, campaignID string) (bool, error) {
	if len(f.claimable) == 0 && f.pending == 0 && f.active == 0 {
		f.drained = true
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) CountPending(ctx context.Context, workspaceID, campaignID string) (int, error) {
	return f.pending + len(f.claimable), nil
}

func (f *fakeStore) CountActiveCalls(ctx context.Context, workspaceID, campaignID string) (int, error) {
	return f.active, nil
}

type fakeRunner struct {
	requests []dispatch.BatchRequest
	result   dispatch.BatchResult
}

func (f *fakeRunner) Run(ctx context.Context, req dispatch.BatchRequest) dispatch.BatchResult {
	f.requests = append(f.requests, req)
	return f.result
}

type fakeQueue struct {
	tasks []RefillTask
}

func (f *fakeQueue) Enqueue(ctx context.Context, task RefillTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func activeCampaign() Campaign {
	return Campaign{
		ID:          "camp_1",
		WorkspaceID: "ws_1",
		AssistantID: "asst_1",
		Status:      CampaignStatusActive,
	}
}

func TestStart_ActivatesAndEnqueues(t *testing.T) {
	c := activeCampaign()
	c.Status = CampaignStatusDraft
	store := newFakeStore(c)
	queue := &fakeQueue{}
	svc := NewService(store, &fakeRunner{}, queue, ServiceConfig{ConcurrencyTarget: 3})

	if err := svc.Start(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.campaign.Status != CampaignStatusActive {
		t.Fatalf("expected active campaign, got %s", store.campaign.Status)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Reason != "start" {
		t.Fatalf("expected one start task, got %+v", queue.tasks)
	}
}

func TestStart_RejectsCompletedCampaign(t *testing.T) {
	c := activeCampaign()
	c.Status = CampaignStatusCompleted
	store := newFakeStore(c)
	svc := NewService(store, &fakeRunner{}, &fakeQueue{}, ServiceConfig{})

	if err := svc.Start(context.Background(), "ws_1", "camp_1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel_SkipsRemainingRecipients(t *testing.T) {
	store := newFakeStore(activeCampaign())
	store.claimable = []Recipient{{ID: "r1"}, {ID: "r2"}}
	svc := NewService(store, &fakeRunner{}, &fakeQueue{}, ServiceConfig{})

	if err := svc.Cancel(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.campaign.Status != CampaignStatusCancelled {
		t.Fatalf("expected cancelled, got %s", store.campaign.Status)
	}
	if store.skipped != 2 || store.counters.Skipped != 2 {
		t.Fatalf("expected 2 skipped recipients counted, got skipped=%d counter=%d",
			store.skipped, store.counters.Skipped)
	}
}

func TestRunWave_InactiveCampaignIsNoOp(t *testing.T) {
	c := activeCampaign()
	c.Status = CampaignStatusPaused
	store := newFakeStore(c)
	runner := &fakeRunner{}
	svc := NewService(store, runner, &fakeQueue{}, ServiceConfig{})

	if err := svc.RunWave(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.requests) != 0 {
		t.Fatalf("paused campaign must not dispatch")
	}
}

func TestRunWave_ClaimsOnlyHeadroom(t *testing.T) {
	store := newFakeStore(activeCampaign())
	store.active = 2
	store.claimable = []Recipient{{ID: "r1", Phone: "1"}, {ID: "r2", Phone: "2"}, {ID: "r3", Phone: "3"}}
	runner := &fakeRunner{result: dispatch.BatchResult{
		Results:    []dispatch.Result{{RecipientID: "r1", ProviderCallID: "call_1", Status: dispatch.StatusSuccess, Attempts: 1}},
		Successful: 1,
	}}
	svc := NewService(store, runner, &fakeQueue{}, ServiceConfig{ConcurrencyTarget: 3})

	if err := svc.RunWave(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.claimed != 1 {
		t.Fatalf("expected 1 claim (3 target - 2 active), got %d", store.claimed)
	}
	if got := store.calling["r1"]; got != "call_1" {
		t.Fatalf("expected r1 calling with call_1, got %q", got)
	}
}

func TestRunWave_NoHeadroomDoesNothing(t *testing.T) {
	store := newFakeStore(activeCampaign())
	store.active = 3
	store.claimable = []Recipient{{ID: "r1"}}
	runner := &fakeRunner{}
	svc := NewService(store, runner, &fakeQueue{}, ServiceConfig{ConcurrencyTarget: 3})

	if err := svc.RunWave(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.claimed != 0 || len(runner.requests) != 0 {
		t.Fatalf("full pipeline must not claim or dispatch")
	}
}

func TestRunWave_PersistsOutcomesAndRefillsOnFailure(t *testing.T) {
	store := newFakeStore(activeCampaign())
	store.claimable = []Recipient{{ID: "r1", Phone: "1"}, {ID: "r2", Phone: "2"}, {ID: "r3", Phone: "3"}}
	store.pending = 5
	runner := &fakeRunner{result: dispatch.BatchResult{
		Results: []dispatch.Result{
			{RecipientID: "r1", ProviderCallID: "call_1", Status: dispatch.StatusSuccess, Attempts: 1},
			{RecipientID: "r2", Status: dispatch.StatusFailed, Reason: "bad number", Attempts: 1},
			{RecipientID: "r3", Status: dispatch.StatusSkipped, Reason: "batch cancelled"},
		},
		Successful: 1,
		Failed:     1,
		Skipped:    1,
	}}
	queue := &fakeQueue{}
	svc := NewService(store, runner, queue, ServiceConfig{ConcurrencyTarget: 3})

	if err := svc.RunWave(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.outcomes["r2"] != RecipientStatusFailed {
		t.Fatalf("expected r2 failed, got %s", store.outcomes["r2"])
	}
	if store.counters.Failed != 1 {
		t.Fatalf("expected 1 failed counted, got %d", store.counters.Failed)
	}
	if len(store.released) != 1 || store.released[0] != "r3" {
		t.Fatalf("expected r3 released to pending, got %v", store.released)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Reason != "capacity_freed" {
		t.Fatalf("expected capacity_freed refill task, got %+v", queue.tasks)
	}
}

func TestRunWave_DrainedCampaignCompletes(t *testing.T) {
	store := newFakeStore(activeCampaign())
	svc := NewService(store, &fakeRunner{}, &fakeQueue{}, ServiceConfig{ConcurrencyTarget: 3})

	if err := svc.RunWave(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.drained {
		t.Fatalf("expected drained campaign to complete")
	}
}

func TestRunWave_ClosedWindowDefers(t *testing.T) {
	c := activeCampaign()
	c.Hours = &schedule.BusinessHours{
		Enabled:  true,
		Timezone: "UTC",
		Schedule: map[string][]schedule.Slot{
			"tuesday": {{Start: "09:00", End: "17:00"}},
		},
	}
	store := newFakeStore(c)
	store.claimable = []Recipient{{ID: "r1"}}
	runner := &fakeRunner{}
	queue := &fakeQueue{}
	svc := NewService(store, runner, queue, ServiceConfig{ConcurrencyTarget: 3, DefaultTimezone: "UTC"})
	svc.now = func() time.Time {
		return time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC) // Monday 20:00
	}

	if err := svc.RunWave(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.requests) != 0 || store.claimed != 0 {
		t.Fatalf("closed window must not claim or dispatch")
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Reason != "window_closed" {
		t.Fatalf("expected window_closed task, got %+v", queue.tasks)
	}
	want := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	if !queue.tasks[0].NotBefore.Equal(want) {
		t.Fatalf("expected NotBefore %v, got %v", want, queue.tasks[0].NotBefore)
	}
}

func TestOnCallEnded_Enqueues(t *testing.T) {
	queue := &fakeQueue{}
	svc := NewService(newFakeStore(activeCampaign()), &fakeRunner{}, queue, ServiceConfig{})

	if err := svc.OnCallEnded(context.Background(), "ws_1", "camp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Reason != "call_ended" {
		t.Fatalf("expected call_ended task, got %+v", queue.tasks)
	}
}
