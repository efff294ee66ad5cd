package billing

import (
	"context"
	"time"
)

// MemoryRateRepo is a simple in-memory repository useful for tests and early
// development. It is workspace-scoped.
//
// NOTE: This is not intended for production; replace with the Postgres implementation.
type MemoryRateRepo struct {
	Rates []MinuteRate
}

func (r *MemoryRateRepo) FindMinuteRate(ctx context.Context, workspaceID string, at time.Time) (MinuteRate, bool, error) {
	_ = ctx

	// Prefer the most recent effective rate row.
	var best MinuteRate
	found := false

	for _, rate := range r.Rates {
		if rate.WorkspaceID != workspaceID {
			continue
		}
		if rate.Status != RateStatusActive {
			continue
		}
		if at.Before(rate.EffectiveFrom) {
			continue
		}
		if rate.EffectiveTo != nil && !at.Before(*rate.EffectiveTo) {
			continue
		}

		if !found || rate.EffectiveFrom.After(best.EffectiveFrom) {
			best = rate
			found = true
		}
	}

	return best, found, nil
}
