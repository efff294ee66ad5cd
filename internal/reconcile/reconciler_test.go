package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"voicecampaign-platform/internal/billing"
	"voicecampaign-platform/internal/campaign"
	"voicecampaign-platform/internal/provider"
)

type fakeRecords struct {
	upserts []CallRecord
}

func (f *fakeRecords) Upsert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == "" {
		rec.ID = "rec_1"
	}
	f.upserts = append(f.upserts, rec)
	return rec, nil
}

type fakeCampaigns struct {
	recipient    campaign.Recipient
	recipientErr error

	campaign    campaign.Campaign
	campaignErr error

	outcomes      map[string]campaign.RecipientStatus
	counters      campaign.CounterDelta
	drainedChecks int
}

func (f *fakeCampaigns) FindRecipientByProviderCallID(ctx context.Context, providerCallID string) (campaign.Recipient, error) {
	if f.recipientErr != nil {
		return campaign.Recipient{}, f.recipientErr
	}
	return f.recipient, nil
}

func (f *fakeCampaigns) FindCampaignByAssistant(ctx context.Context, assistantID string) (campaign.Campaign, error) {
	if f.campaignErr != nil {
		return campaign.Campaign{}, f.campaignErr
	}
	return f.campaign, nil
}

func (f *fakeCampaigns) MarkOutcome(ctx context.Context, workspaceID, recipientID string, status campaign.RecipientStatus, lastError string, attempts int) (bool, error) {
	if f.outcomes == nil {
		f.outcomes = map[string]campaign.RecipientStatus{}
	}
	if _, done := f.outcomes[recipientID]; done {
		return false, nil
	}
	f.outcomes[recipientID] = status
	return true, nil
}

func (f *fakeCampaigns) IncrementCounters(ctx context.Context, workspaceID, campaignID string, d campaign.CounterDelta) error {
	f.counters.Completed += d.Completed
	f.counters.Failed += d.Failed
	f.counters.Skipped += d.Skipped
	return nil
}

func (f *fakeCampaigns) CompleteIfDrained(ctx context.Context, workspaceID, campaignID string) (bool, error) {
	f.drainedChecks++
	return false, nil
}

type fakeBiller struct {
	charges []billing.ChargeRequest
}

func (f *fakeBiller) ChargeCall(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	f.charges = append(f.charges, req)
	return billing.ChargeResult{Charged: true, AmountMinor: 100, Minutes: 2}, nil
}

type fakeRefiller struct {
	ended []string
}

func (f *fakeRefiller) OnCallEnded(ctx context.Context, workspaceID, campaignID string) error {
	f.ended = append(f.ended, campaignID)
	return nil
}

type fakeSlots struct {
	releases int
}

func (f *fakeSlots) Release(ctx context.Context, workspaceID string) {
	f.releases++
}

func trackedRecipient() campaign.Recipient {
	return campaign.Recipient{
		ID:          "r1",
		WorkspaceID: "ws_1",
		CampaignID:  "camp_1",
		Phone:       "+14155552671",
		Status:      campaign.RecipientStatusCalling,
		Attempts:    1,
	}
}

func endOfCallEvent() provider.NormalizedCallEvent {
	started := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	return provider.NormalizedCallEvent{
		Provider:        "vapi",
		EventType:       provider.EventEndOfCallReport,
		ExternalID:      "call_ext_1",
		AssistantID:     "asst_1",
		Status:          "ended",
		EndedReason:     "customer-ended-call",
		StartedAt:       &started,
		EndedAt:         &ended,
		DurationSeconds: 90,
		Transcript:      "Agent: Hello.\nUser: Hi.",
		Cost:            0.42,
		Raw:             json.RawMessage(`{"message":{"type":"end-of-call-report"}}`),
	}
}

func newTestReconciler() (*Reconciler, *fakeRecords, *fakeCampaigns, *fakeBiller, *fakeRefiller, *fakeSlots) {
	records := &fakeRecords{}
	campaigns := &fakeCampaigns{recipient: trackedRecipient()}
	biller := &fakeBiller{}
	refiller := &fakeRefiller{}
	slots := &fakeSlots{}
	return NewReconciler(records, campaigns, biller, refiller, slots), records, campaigns, biller, refiller, slots
}

func TestProcessCallEvent_StatusUpdateOnlyUpserts(t *testing.T) {
	r, records, campaigns, biller, refiller, slots := newTestReconciler()

	ev := provider.NormalizedCallEvent{
		Provider:    "vapi",
		EventType:   provider.EventStatusUpdate,
		ExternalID:  "call_ext_1",
		AssistantID: "asst_1",
		Status:      "in-progress",
	}
	if err := r.ProcessCallEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(records.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(records.upserts))
	}
	if records.upserts[0].Outcome != "" {
		t.Fatalf("status update must not classify an outcome")
	}
	if len(biller.charges) != 0 || len(refiller.ended) != 0 || slots.releases != 0 {
		t.Fatalf("status update must not bill, refill or release slots")
	}
	if len(campaigns.outcomes) != 0 {
		t.Fatalf("status update must not move the recipient")
	}
}

func TestProcessCallEvent_TerminalCompletesRecipientAndBills(t *testing.T) {
	r, records, campaigns, biller, refiller, slots := newTestReconciler()

	if err := r.ProcessCallEvent(context.Background(), endOfCallEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := records.upserts[0]
	if rec.Outcome != OutcomeAnswered {
		t.Fatalf("expected answered outcome, got %s", rec.Outcome)
	}
	if rec.WorkspaceID != "ws_1" || rec.CampaignID != "camp_1" || rec.RecipientID != "r1" {
		t.Fatalf("record must carry tenancy from the recipient, got %+v", rec)
	}
	if rec.ProviderCost != 0.42 {
		t.Fatalf("record must carry the provider-reported cost, got %v", rec.ProviderCost)
	}
	if len(rec.Metadata) == 0 {
		t.Fatalf("record must preserve the raw provider payload")
	}
	if campaigns.outcomes["r1"] != campaign.RecipientStatusCompleted {
		t.Fatalf("expected recipient completed, got %s", campaigns.outcomes["r1"])
	}
	if campaigns.counters.Completed != 1 || campaigns.counters.Failed != 0 {
		t.Fatalf("expected completed counter bump, got %+v", campaigns.counters)
	}
	if len(biller.charges) != 1 || biller.charges[0].DurationSeconds != 90 {
		t.Fatalf("expected one 90s charge, got %+v", biller.charges)
	}
	if slots.releases != 1 {
		t.Fatalf("expected one slot release, got %d", slots.releases)
	}
	if len(refiller.ended) != 1 || refiller.ended[0] != "camp_1" {
		t.Fatalf("expected refill for camp_1, got %v", refiller.ended)
	}
	if campaigns.drainedChecks != 1 {
		t.Fatalf("expected drain check, got %d", campaigns.drainedChecks)
	}
}

func TestProcessCallEvent_ErrorOutcomeFailsRecipient(t *testing.T) {
	r, _, campaigns, _, _, _ := newTestReconciler()

	ev := endOfCallEvent()
	ev.EndedReason = "pipeline-error-openai-llm-failed"
	ev.Transcript = ""
	ev.DurationSeconds = 0

	if err := r.ProcessCallEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campaigns.outcomes["r1"] != campaign.RecipientStatusFailed {
		t.Fatalf("expected recipient failed, got %s", campaigns.outcomes["r1"])
	}
	if campaigns.counters.Failed != 1 || campaigns.counters.Completed != 0 {
		t.Fatalf("expected failed counter bump, got %+v", campaigns.counters)
	}
}

func TestProcessCallEvent_RedeliveryDoesNotDoubleAct(t *testing.T) {
	r, _, campaigns, biller, refiller, slots := newTestReconciler()

	ev := endOfCallEvent()
	if err := r.ProcessCallEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.ProcessCallEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}

	if campaigns.counters.Completed != 1 {
		t.Fatalf("redelivery must not double-count, got %d", campaigns.counters.Completed)
	}
	if slots.releases != 1 {
		t.Fatalf("redelivery must not double-release the slot, got %d", slots.releases)
	}
	if len(refiller.ended) != 1 {
		t.Fatalf("redelivery must not enqueue a second refill, got %d", len(refiller.ended))
	}
	// Billing is re-invoked but its own idempotency guard makes it a no-op.
	if len(biller.charges) != 2 {
		t.Fatalf("expected the meter to see both deliveries, got %d", len(biller.charges))
	}
}

func TestProcessCallEvent_UnknownCallDropped(t *testing.T) {
	r, records, campaigns, biller, _, _ := newTestReconciler()
	campaigns.recipientErr = campaign.ErrNotFound
	campaigns.campaignErr = campaign.ErrNotFound

	if err := r.ProcessCallEvent(context.Background(), endOfCallEvent()); err != nil {
		t.Fatalf("unknown call must be dropped without error, got %v", err)
	}
	if len(records.upserts) != 0 || len(biller.charges) != 0 {
		t.Fatalf("unknown call must not be stored or billed")
	}
}

func TestProcessCallEvent_AssistantFallbackBillsWithoutRecipient(t *testing.T) {
	r, records, campaigns, biller, refiller, slots := newTestReconciler()
	campaigns.recipientErr = campaign.ErrNotFound
	campaigns.campaign = campaign.Campaign{ID: "camp_1", WorkspaceID: "ws_1", AssistantID: "asst_1"}

	if err := r.ProcessCallEvent(context.Background(), endOfCallEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := records.upserts[0]
	if rec.WorkspaceID != "ws_1" || rec.RecipientID != "" {
		t.Fatalf("expected workspace from assistant fallback, got %+v", rec)
	}
	if len(campaigns.outcomes) != 0 {
		t.Fatalf("untracked call must not move any recipient")
	}
	if len(biller.charges) != 1 {
		t.Fatalf("untracked call still gets billed, got %d charges", len(biller.charges))
	}
	if slots.releases != 0 || len(refiller.ended) != 0 {
		t.Fatalf("untracked call must not release slots or refill")
	}
}
