package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Repository persists call records. It also implements billing.CostStore so
// the meter can use the cost column as its idempotency marker.
//
// NOTE: assumes a call_records table with UNIQUE (provider, external_id).
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert merges an event into the record keyed by (provider, external_id).
// The merge is additive: empty strings and zero durations from sparse events
// never clobber data an earlier event already wrote.
func (r *Repository) Upsert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	const q = `
INSERT INTO call_records (
  id, workspace_id, campaign_id, recipient_id, provider, external_id,
  assistant_id, phone, status, outcome, ended_reason,
  started_at, ended_at, duration_seconds,
  transcript, recording_url, summary, sentiment,
  provider_cost, metadata,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$21
)
ON CONFLICT (provider, external_id) DO UPDATE SET
  workspace_id   = COALESCE(NULLIF(EXCLUDED.workspace_id, ''), call_records.workspace_id),
  campaign_id    = COALESCE(NULLIF(EXCLUDED.campaign_id, ''), call_records.campaign_id),
  recipient_id   = COALESCE(NULLIF(EXCLUDED.recipient_id, ''), call_records.recipient_id),
  assistant_id   = COALESCE(NULLIF(EXCLUDED.assistant_id, ''), call_records.assistant_id),
  phone          = COALESCE(NULLIF(EXCLUDED.phone, ''), call_records.phone),
  status         = COALESCE(NULLIF(EXCLUDED.status, ''), call_records.status),
  outcome        = COALESCE(NULLIF(EXCLUDED.outcome, ''), call_records.outcome),
  ended_reason   = COALESCE(NULLIF(EXCLUDED.ended_reason, ''), call_records.ended_reason),
  started_at     = COALESCE(EXCLUDED.started_at, call_records.started_at),
  ended_at       = COALESCE(EXCLUDED.ended_at, call_records.ended_at),
  duration_seconds = GREATEST(EXCLUDED.duration_seconds, call_records.duration_seconds),
  transcript     = COALESCE(NULLIF(EXCLUDED.transcript, ''), call_records.transcript),
  recording_url  = COALESCE(NULLIF(EXCLUDED.recording_url, ''), call_records.recording_url),
  summary        = COALESCE(NULLIF(EXCLUDED.summary, ''), call_records.summary),
  sentiment      = COALESCE(NULLIF(EXCLUDED.sentiment, ''), call_records.sentiment),
  provider_cost  = COALESCE(NULLIF(EXCLUDED.provider_cost, 0), call_records.provider_cost),
  metadata       = COALESCE(EXCLUDED.metadata, call_records.metadata),
  updated_at     = EXCLUDED.updated_at
RETURNING id, workspace_id, campaign_id, recipient_id, provider, external_id,
          assistant_id, phone, status, outcome, ended_reason,
          started_at, ended_at, duration_seconds,
          transcript, recording_url, summary, sentiment,
          provider_cost, metadata,
          cost_minor, billed_minutes, billed_at, created_at, updated_at
`
	// A nil metadata arg stays NULL so the merge keeps the prior payload.
	var meta []byte
	if len(rec.Metadata) > 0 {
		meta = rec.Metadata
	}
	row := r.db.QueryRowContext(ctx, q,
		rec.ID, rec.WorkspaceID, rec.CampaignID, rec.RecipientID, rec.Provider, rec.ExternalID,
		rec.AssistantID, rec.Phone, rec.Status, rec.Outcome, rec.EndedReason,
		rec.StartedAt, rec.EndedAt, rec.DurationSeconds,
		rec.Transcript, rec.RecordingURL, rec.Summary, rec.Sentiment,
		rec.ProviderCost, meta,
		now,
	)
	return scanRecord(row)
}

func (r *Repository) GetByExternalID(ctx context.Context, provider, externalID string) (CallRecord, error) {
	const q = `
SELECT id, workspace_id, campaign_id, recipient_id, provider, external_id,
       assistant_id, phone, status, outcome, ended_reason,
       started_at, ended_at, duration_seconds,
       transcript, recording_url, summary, sentiment,
       provider_cost, metadata,
       cost_minor, billed_minutes, billed_at, created_at, updated_at
FROM call_records
WHERE provider = $1 AND external_id = $2
`
	return scanRecord(r.db.QueryRowContext(ctx, q, provider, externalID))
}

// CallCost implements billing.CostStore.
func (r *Repository) CallCost(ctx context.Context, workspaceID, callID string) (*int64, error) {
	const q = `
SELECT cost_minor FROM call_records WHERE workspace_id = $1 AND id = $2
`
	var cost sql.NullInt64
	if err := r.db.QueryRowContext(ctx, q, workspaceID, callID).Scan(&cost); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !cost.Valid {
		return nil, nil
	}
	out := cost.Int64
	return &out, nil
}

// RecordCallCost implements billing.CostStore. The IS NULL guard makes the
// write a compare-and-set; losing the race means a concurrent delivery billed.
func (r *Repository) RecordCallCost(ctx context.Context, workspaceID, callID string, costMinor int64, minutes int, billedAt time.Time) (bool, error) {
	const q = `
UPDATE call_records
SET cost_minor = $3, billed_minutes = $4, billed_at = $5, updated_at = NOW()
WHERE workspace_id = $1 AND id = $2 AND cost_minor IS NULL
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, callID, costMinor, minutes, billedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanRecord(row *sql.Row) (CallRecord, error) {
	var rec CallRecord
	var cost sql.NullInt64
	var providerCost sql.NullFloat64
	var meta []byte
	err := row.Scan(
		&rec.ID, &rec.WorkspaceID, &rec.CampaignID, &rec.RecipientID, &rec.Provider, &rec.ExternalID,
		&rec.AssistantID, &rec.Phone, &rec.Status, &rec.Outcome, &rec.EndedReason,
		&rec.StartedAt, &rec.EndedAt, &rec.DurationSeconds,
		&rec.Transcript, &rec.RecordingURL, &rec.Summary, &rec.Sentiment,
		&providerCost, &meta,
		&cost, &rec.BilledMinutes, &rec.BilledAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	rec.ProviderCost = providerCost.Float64
	rec.Metadata = meta
	if cost.Valid {
		v := cost.Int64
		rec.CostMinor = &v
	}
	return rec, nil
}
