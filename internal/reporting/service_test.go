package reporting

import (
	"context"
	"testing"
	"time"

	"voicecampaign-platform/internal/reconcile"
	"voicecampaign-platform/internal/wallet"
)

func TestReporting_WorkspaceIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []reconcile.CallRecord{
		{ID: "c1", WorkspaceID: "w1", CampaignID: "camp", Outcome: reconcile.OutcomeAnswered, DurationSeconds: 30, CreatedAt: now},
		{ID: "c2", WorkspaceID: "w2", CampaignID: "camp", Outcome: reconcile.OutcomeAnswered, DurationSeconds: 50, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
}

func TestReporting_CallsSummaryOutcomes(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	cost := int64(100)
	repo.Calls = []reconcile.CallRecord{
		{ID: "c1", WorkspaceID: "w", CampaignID: "camp", Outcome: reconcile.OutcomeAnswered, DurationSeconds: 90, RecordingURL: "https://r/1", CostMinor: &cost, BilledMinutes: 2, CreatedAt: now},
		{ID: "c2", WorkspaceID: "w", CampaignID: "camp", Outcome: reconcile.OutcomeNoAnswer, DurationSeconds: 0, CreatedAt: now},
		{ID: "c3", WorkspaceID: "w", CampaignID: "camp", Outcome: reconcile.OutcomeVoicemail, DurationSeconds: 15, CreatedAt: now},
		{ID: "c4", WorkspaceID: "w", CampaignID: "camp", Outcome: reconcile.OutcomeError, DurationSeconds: 0, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w", CampaignID: "camp", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.AnsweredCalls != 1 || out.NoAnswerCalls != 1 || out.VoicemailCalls != 1 || out.ErrorCalls != 1 {
		t.Fatalf("unexpected outcome counts: %+v", out)
	}
	if out.ConnectionRate != 0.5 {
		t.Fatalf("expected connection rate 0.5, got %f", out.ConnectionRate)
	}
	if out.TotalCostMinor != 100 || out.BilledMinutes != 2 {
		t.Fatalf("expected spend 100 minor / 2 minutes, got %d / %d", out.TotalCostMinor, out.BilledMinutes)
	}
	if out.RecordedCalls != 1 {
		t.Fatalf("expected 1 recorded call, got %d", out.RecordedCalls)
	}
}

func TestReporting_SpendSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Ledgers = []wallet.LedgerEntry{
		{ID: "l1", WorkspaceID: "w", WalletID: "wa", Currency: "USD", AmountMinor: 1000, IdempotencyKey: "topup:1", CreatedAt: now},
		{ID: "l2", WorkspaceID: "w", WalletID: "wa", Currency: "USD", AmountMinor: -200, IdempotencyKey: "call_charge:c1", CreatedAt: now},
		{ID: "l3", WorkspaceID: "w", WalletID: "wa", Currency: "USD", AmountMinor: -50, IdempotencyKey: "call_charge:c2", CreatedAt: now},
		{ID: "l4", WorkspaceID: "w", WalletID: "wa", Currency: "USD", AmountMinor: -25, IdempotencyKey: "fee:monthly", CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{WorkspaceID: "w", WalletID: "wa", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, Currency: "USD"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalDebitMinor != 275 {
		t.Fatalf("expected total debit 275, got %d", out.TotalDebitMinor)
	}
	if out.TotalCreditMinor != 1000 {
		t.Fatalf("expected total credit 1000, got %d", out.TotalCreditMinor)
	}
	if out.NetDeltaMinor != 725 {
		t.Fatalf("expected net 725, got %d", out.NetDeltaMinor)
	}
	if out.CallSpendMinor != 250 {
		t.Fatalf("expected call spend 250, got %d", out.CallSpendMinor)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Now()

	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w"}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{WorkspaceID: "w", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
