package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRateRepo reads workspace rate overrides from minute_rates.
type PostgresRateRepo struct {
	db *sql.DB
}

func NewPostgresRateRepo(db *sql.DB) *PostgresRateRepo {
	return &PostgresRateRepo{db: db}
}

func (r *PostgresRateRepo) FindMinuteRate(ctx context.Context, workspaceID string, at time.Time) (MinuteRate, bool, error) {
	const q = `
SELECT id, workspace_id, currency, rate_per_minute_minor,
       billing_increment_seconds, minimum_billable_seconds,
       effective_from, effective_to, status, created_at, updated_at
FROM minute_rates
WHERE workspace_id = $1
  AND status = 'active'
  AND effective_from <= $2
  AND (effective_to IS NULL OR effective_to > $2)
ORDER BY effective_from DESC
LIMIT 1
`
	var rate MinuteRate
	err := r.db.QueryRowContext(ctx, q, workspaceID, at).Scan(
		&rate.ID,
		&rate.WorkspaceID,
		&rate.Currency,
		&rate.RatePerMinuteMinor,
		&rate.BillingIncrementSeconds,
		&rate.MinimumBillableSeconds,
		&rate.EffectiveFrom,
		&rate.EffectiveTo,
		&rate.Status,
		&rate.CreatedAt,
		&rate.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MinuteRate{}, false, nil
		}
		return MinuteRate{}, false, err
	}
	return rate, true, nil
}
