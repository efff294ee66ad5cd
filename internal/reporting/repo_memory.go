package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"voicecampaign-platform/internal/reconcile"
	"voicecampaign-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces workspace isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Calls   []reconcile.CallRecord
	Ledgers []wallet.LedgerEntry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCallRecords(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]reconcile.CallRecord, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reconcile.CallRecord, 0)
	for _, c := range r.Calls {
		if c.WorkspaceID != workspaceID {
			continue
		}
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		if campaignID != "" && c.CampaignID != campaignID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListWalletLedger(ctx context.Context, workspaceID string, from, to time.Time, walletID string) ([]wallet.LedgerEntry, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.LedgerEntry, 0)
	for _, l := range r.Ledgers {
		if l.WorkspaceID != workspaceID {
			continue
		}
		if !l.CreatedAt.IsZero() {
			if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
				continue
			}
		}
		if walletID != "" && l.WalletID != walletID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
