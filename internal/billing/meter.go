package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicecampaign-platform/internal/wallet"
	"voicecampaign-platform/pkg/logger"
)

// WalletAPI is the slice of the wallet service the meter needs.
// Matched by *wallet.Service.
type WalletAPI interface {
	GetWorkspaceWallet(ctx context.Context, workspaceID string) (wallet.Wallet, error)
	Debit(ctx context.Context, workspaceID, walletID string, req wallet.DebitRequest) (wallet.LedgerEntry, wallet.Balance, error)
}

// CostStore persists the per-call cost. The recorded cost doubles as the
// billing idempotency marker: a call with a non-null cost is never re-billed.
type CostStore interface {
	// CallCost returns the recorded cost in minor units, nil if unbilled.
	CallCost(ctx context.Context, workspaceID, callID string) (*int64, error)
	// RecordCallCost sets the cost only if it is still null. Returns false
	// when another invocation got there first.
	RecordCallCost(ctx context.Context, workspaceID, callID string, costMinor int64, minutes int, billedAt time.Time) (bool, error)
}

// ChargeRequest bills one completed call.
type ChargeRequest struct {
	WorkspaceID     string
	CallID          string
	DurationSeconds int
	EndedAt         time.Time
}

type ChargeResult struct {
	Charged     bool   `json:"charged"`
	AmountMinor int64  `json:"amount_minor"`
	Minutes     int    `json:"minutes"`
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

const (
	ReasonAlreadyProcessed  = "already_processed"
	ReasonZeroDuration      = "zero_duration"
	ReasonZeroRate          = "zero_rate"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonNoWallet          = "no_wallet"
	ReasonWalletDisabled    = "wallet_disabled"
)

var ErrInvalidCharge = errors.New("invalid charge request")

// Meter converts call durations into wallet debits.
//
// Idempotency is layered: the cost column guards re-billing at the call level,
// and the ledger idempotency key guards the debit itself, so a crash between
// the two steps is safe to retry.
type Meter struct {
	rates   *Resolver
	wallets WalletAPI
	costs   CostStore

	clock func() time.Time
}

func NewMeter(rates *Resolver, wallets WalletAPI, costs CostStore) *Meter {
	return &Meter{rates: rates, wallets: wallets, costs: costs, clock: time.Now}
}

// ChargeCall bills one terminal call exactly once. Billing failures that are
// business outcomes (no funds, no wallet) still record the cost and report a
// reason instead of an error; only infrastructure failures return an error so
// the caller can retry.
func (m *Meter) ChargeCall(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if req.WorkspaceID == "" || req.CallID == "" {
		return ChargeResult{}, ErrInvalidCharge
	}
	if req.DurationSeconds < 0 {
		req.DurationSeconds = 0
	}

	log := logger.From(ctx)

	if existing, err := m.costs.CallCost(ctx, req.WorkspaceID, req.CallID); err != nil {
		return ChargeResult{}, err
	} else if existing != nil {
		return ChargeResult{AmountMinor: *existing, Reason: ReasonAlreadyProcessed}, nil
	}

	at := req.EndedAt
	if at.IsZero() {
		at = m.clock().UTC()
	}

	rate, err := m.rates.Resolve(ctx, req.WorkspaceID, at)
	if err != nil {
		return ChargeResult{}, err
	}

	minutes, total := CostFor(rate, req.DurationSeconds)
	res := ChargeResult{AmountMinor: total, Minutes: minutes, Currency: rate.Currency}

	if total > 0 {
		w, err := m.wallets.GetWorkspaceWallet(ctx, req.WorkspaceID)
		switch {
		case errors.Is(err, wallet.ErrNotFound):
			res.Reason = ReasonNoWallet
			log.Warn("call completed without a wallet to bill",
				"workspace_id", req.WorkspaceID, "call_id", req.CallID, "amount_minor", total)
		case err != nil:
			return ChargeResult{}, err
		default:
			_, _, err := m.wallets.Debit(ctx, req.WorkspaceID, w.ID, wallet.DebitRequest{
				AmountMinor:    total,
				Currency:       w.Currency,
				ExternalRef:    req.CallID,
				IdempotencyKey: debitKey(req.CallID),
				Metadata:       fmt.Sprintf(`{"minutes":%d,"duration_seconds":%d}`, minutes, req.DurationSeconds),
			})
			switch {
			case errors.Is(err, wallet.ErrInsufficientFunds):
				res.Reason = ReasonInsufficientFunds
				log.Warn("insufficient funds for completed call",
					"workspace_id", req.WorkspaceID, "call_id", req.CallID, "amount_minor", total)
			case errors.Is(err, wallet.ErrWalletDisabled):
				res.Reason = ReasonWalletDisabled
				log.Warn("wallet disabled, charge not posted",
					"workspace_id", req.WorkspaceID, "call_id", req.CallID)
			case err != nil:
				return ChargeResult{}, err
			default:
				res.Charged = true
			}
		}
	} else if req.DurationSeconds > 0 {
		// The call connected but the resolved rate prices it at zero.
		res.Reason = ReasonZeroRate
	} else {
		res.Reason = ReasonZeroDuration
	}

	// Record the cost even when the debit did not post: the call happened and
	// the amount is owed. Losing the race means a concurrent delivery billed it.
	ok, err := m.costs.RecordCallCost(ctx, req.WorkspaceID, req.CallID, total, minutes, at)
	if err != nil {
		return ChargeResult{}, err
	}
	if !ok {
		return ChargeResult{AmountMinor: total, Reason: ReasonAlreadyProcessed}, nil
	}

	return res, nil
}

func debitKey(callID string) string {
	return "call_charge:" + callID
}
