package billing

import (
	"context"
	"testing"
	"time"

	"voicecampaign-platform/internal/wallet"
)

type memCostStore struct {
	costs map[string]int64
}

func newMemCostStore() *memCostStore {
	return &memCostStore{costs: map[string]int64{}}
}

func (s *memCostStore) CallCost(ctx context.Context, workspaceID, callID string) (*int64, error) {
	if c, ok := s.costs[workspaceID+"/"+callID]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

func (s *memCostStore) RecordCallCost(ctx context.Context, workspaceID, callID string, costMinor int64, minutes int, billedAt time.Time) (bool, error) {
	key := workspaceID + "/" + callID
	if _, ok := s.costs[key]; ok {
		return false, nil
	}
	s.costs[key] = costMinor
	return true, nil
}

type fakeWallets struct {
	wallet wallet.Wallet
	getErr error

	debitErr error
	debits   []wallet.DebitRequest
	keys     map[string]bool
}

func (f *fakeWallets) GetWorkspaceWallet(ctx context.Context, workspaceID string) (wallet.Wallet, error) {
	if f.getErr != nil {
		return wallet.Wallet{}, f.getErr
	}
	return f.wallet, nil
}

func (f *fakeWallets) Debit(ctx context.Context, workspaceID, walletID string, req wallet.DebitRequest) (wallet.LedgerEntry, wallet.Balance, error) {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[req.IdempotencyKey] {
		// Idempotent replay returns the prior entry without a new debit.
		return wallet.LedgerEntry{IdempotencyKey: req.IdempotencyKey}, wallet.Balance{}, nil
	}
	if f.debitErr != nil {
		return wallet.LedgerEntry{}, wallet.Balance{}, f.debitErr
	}
	f.keys[req.IdempotencyKey] = true
	f.debits = append(f.debits, req)
	return wallet.LedgerEntry{IdempotencyKey: req.IdempotencyKey, AmountMinor: -req.AmountMinor}, wallet.Balance{}, nil
}

func newTestMeter(wallets *fakeWallets, costs CostStore) *Meter {
	rates := NewResolver(&MemoryRateRepo{}, 50, "USD")
	return NewMeter(rates, wallets, costs)
}

func TestChargeCall_BillsOnceAndDebits(t *testing.T) {
	wallets := &fakeWallets{wallet: wallet.Wallet{ID: "w1", WorkspaceID: "ws", Currency: "USD", BillingMode: wallet.BillingModePrepaid}}
	costs := newMemCostStore()
	m := newTestMeter(wallets, costs)

	req := ChargeRequest{WorkspaceID: "ws", CallID: "call_1", DurationSeconds: 61, EndedAt: time.Now()}

	res, err := m.ChargeCall(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Charged {
		t.Fatalf("expected charge, got %+v", res)
	}
	if res.Minutes != 2 || res.AmountMinor != 100 {
		t.Fatalf("expected 2 minutes / 100 minor, got %d / %d", res.Minutes, res.AmountMinor)
	}
	if len(wallets.debits) != 1 {
		t.Fatalf("expected exactly one debit, got %d", len(wallets.debits))
	}
	if wallets.debits[0].ExternalRef != "call_1" {
		t.Fatalf("debit must reference the call, got %q", wallets.debits[0].ExternalRef)
	}

	// Webhook redelivery: the same event must be a no-op.
	res2, err := m.ChargeCall(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if res2.Charged || res2.Reason != ReasonAlreadyProcessed {
		t.Fatalf("expected already_processed on redelivery, got %+v", res2)
	}
	if len(wallets.debits) != 1 {
		t.Fatalf("redelivery must not debit again, got %d debits", len(wallets.debits))
	}
}

func TestChargeCall_ZeroDuration(t *testing.T) {
	wallets := &fakeWallets{wallet: wallet.Wallet{ID: "w1", Currency: "USD"}}
	costs := newMemCostStore()
	m := newTestMeter(wallets, costs)

	res, err := m.ChargeCall(context.Background(), ChargeRequest{WorkspaceID: "ws", CallID: "call_0", DurationSeconds: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Charged || res.AmountMinor != 0 || res.Reason != ReasonZeroDuration {
		t.Fatalf("expected uncharged zero-duration result, got %+v", res)
	}
	if len(wallets.debits) != 0 {
		t.Fatalf("zero duration must not touch the wallet")
	}

	// The zero cost still marks the call processed.
	res2, err := m.ChargeCall(context.Background(), ChargeRequest{WorkspaceID: "ws", CallID: "call_0", DurationSeconds: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2.Reason != ReasonAlreadyProcessed {
		t.Fatalf("expected already_processed, got %+v", res2)
	}
}

func TestChargeCall_ZeroRateIsNotZeroDuration(t *testing.T) {
	wallets := &fakeWallets{wallet: wallet.Wallet{ID: "w1", Currency: "USD"}}
	costs := newMemCostStore()
	rates := NewResolver(&MemoryRateRepo{Rates: []MinuteRate{{
		WorkspaceID:        "ws",
		Currency:           "USD",
		RatePerMinuteMinor: 0,
		Status:             RateStatusActive,
		EffectiveFrom:      time.Now().Add(-time.Hour),
	}}}, 50, "USD")
	m := NewMeter(rates, wallets, costs)

	res, err := m.ChargeCall(context.Background(), ChargeRequest{WorkspaceID: "ws", CallID: "call_zr", DurationSeconds: 90, EndedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Charged || res.AmountMinor != 0 {
		t.Fatalf("zero-rate call must not charge, got %+v", res)
	}
	if res.Reason != ReasonZeroRate {
		t.Fatalf("a connected call on a zero rate must report zero_rate, got %q", res.Reason)
	}
	if res.Minutes != 2 {
		t.Fatalf("minutes must still be metered, got %d", res.Minutes)
	}
	if len(wallets.debits) != 0 {
		t.Fatalf("zero amount must not touch the wallet")
	}
	if got, _ := costs.CallCost(context.Background(), "ws", "call_zr"); got == nil || *got != 0 {
		t.Fatalf("zero cost must still mark the call processed, got %v", got)
	}
}

func TestChargeCall_InsufficientFundsStillRecordsCost(t *testing.T) {
	wallets := &fakeWallets{
		wallet:   wallet.Wallet{ID: "w1", Currency: "USD", BillingMode: wallet.BillingModePrepaid},
		debitErr: wallet.ErrInsufficientFunds,
	}
	costs := newMemCostStore()
	m := newTestMeter(wallets, costs)

	res, err := m.ChargeCall(context.Background(), ChargeRequest{WorkspaceID: "ws", CallID: "call_2", DurationSeconds: 90})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Charged || res.Reason != ReasonInsufficientFunds {
		t.Fatalf("expected insufficient_funds outcome, got %+v", res)
	}
	if res.AmountMinor != 100 {
		t.Fatalf("owed amount must still be computed, got %d", res.AmountMinor)
	}

	if got, _ := costs.CallCost(context.Background(), "ws", "call_2"); got == nil || *got != 100 {
		t.Fatalf("cost must be recorded even when the debit fails, got %v", got)
	}
}

func TestChargeCall_NoWallet(t *testing.T) {
	wallets := &fakeWallets{getErr: wallet.ErrNotFound}
	costs := newMemCostStore()
	m := newTestMeter(wallets, costs)

	res, err := m.ChargeCall(context.Background(), ChargeRequest{WorkspaceID: "ws", CallID: "call_3", DurationSeconds: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Charged || res.Reason != ReasonNoWallet {
		t.Fatalf("expected no_wallet outcome, got %+v", res)
	}
}

func TestChargeCall_RejectsMissingIDs(t *testing.T) {
	m := newTestMeter(&fakeWallets{}, newMemCostStore())
	if _, err := m.ChargeCall(context.Background(), ChargeRequest{CallID: "c"}); err != ErrInvalidCharge {
		t.Fatalf("expected ErrInvalidCharge, got %v", err)
	}
	if _, err := m.ChargeCall(context.Background(), ChargeRequest{WorkspaceID: "ws"}); err != ErrInvalidCharge {
		t.Fatalf("expected ErrInvalidCharge, got %v", err)
	}
}
