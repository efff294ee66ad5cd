package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicecampaign-platform/internal/reconcile"
	"voicecampaign-platform/internal/wallet"
)

// PostgresRepo reads reporting rows straight from the immutable sources:
// call_records and wallet_ledger.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListCallRecords(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]reconcile.CallRecord, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}

	const q = `
SELECT id, workspace_id, campaign_id, outcome, duration_seconds,
       recording_url, cost_minor, billed_minutes, created_at
FROM call_records
WHERE workspace_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR campaign_id = $4)
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]reconcile.CallRecord, 0)
	for rows.Next() {
		var rec reconcile.CallRecord
		var cost sql.NullInt64
		if err := rows.Scan(
			&rec.ID, &rec.WorkspaceID, &rec.CampaignID, &rec.Outcome, &rec.DurationSeconds,
			&rec.RecordingURL, &cost, &rec.BilledMinutes, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if cost.Valid {
			v := cost.Int64
			rec.CostMinor = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListWalletLedger(ctx context.Context, workspaceID string, from, to time.Time, walletID string) ([]wallet.LedgerEntry, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}

	const q = `
SELECT id, workspace_id, wallet_id, type, amount_minor, currency,
       external_ref, idempotency_key, created_at
FROM wallet_ledger
WHERE workspace_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR wallet_id = $4)
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, from, to, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]wallet.LedgerEntry, 0)
	for rows.Next() {
		var e wallet.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.WorkspaceID, &e.WalletID, &e.Type, &e.AmountMinor, &e.Currency,
			&e.ExternalRef, &e.IdempotencyKey, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
