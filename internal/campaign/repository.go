package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voicecampaign-platform/internal/schedule"
	"voicecampaign-platform/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
// - campaigns
// - campaign_recipients
//
// with hours and variables as JSONB columns.

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateCampaign(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}

	hours, err := marshalHours(c.Hours)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO campaigns (
  id, workspace_id, name, assistant_id, status,
  prompt_template, model_provider, model, hours,
  total_recipients, completed_calls, failed_calls, skipped_calls,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,0,0,$11,$12
)
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.WorkspaceID, c.Name, c.AssistantID, c.Status,
		c.PromptTemplate, c.ModelProvider, c.Model, hours,
		c.TotalRecipients, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *Repository) GetCampaign(ctx context.Context, workspaceID, id string) (Campaign, error) {
	const q = `
SELECT id, workspace_id, name, assistant_id, status,
       prompt_template, model_provider, model, hours,
       total_recipients, completed_calls, failed_calls, skipped_calls,
       created_at, updated_at
FROM campaigns
WHERE workspace_id = $1 AND id = $2
`
	return scanCampaign(r.db.QueryRowContext(ctx, q, workspaceID, id))
}

// FindCampaignByAssistant resolves which campaign a provider webhook belongs
// to when only the assistant id is known.
func (r *Repository) FindCampaignByAssistant(ctx context.Context, assistantID string) (Campaign, error) {
	const q = `
SELECT id, workspace_id, name, assistant_id, status,
       prompt_template, model_provider, model, hours,
       total_recipients, completed_calls, failed_calls, skipped_calls,
       created_at, updated_at
FROM campaigns
WHERE assistant_id = $1 AND status IN ('active','paused')
ORDER BY updated_at DESC
LIMIT 1
`
	return scanCampaign(r.db.QueryRowContext(ctx, q, assistantID))
}

// TransitionStatus moves a campaign between statuses, guarded by the allowed
// source set so concurrent transitions cannot clobber each other.
func (r *Repository) TransitionStatus(ctx context.Context, workspaceID, id string, to CampaignStatus, from ...CampaignStatus) error {
	if len(from) == 0 {
		return ErrInvalidTransition
	}
	fromStrs := make([]string, 0, len(from))
	for _, s := range from {
		fromStrs = append(fromStrs, string(s))
	}

	const q = `
UPDATE campaigns
SET status = $3, updated_at = NOW()
WHERE workspace_id = $1 AND id = $2 AND status = ANY($4)
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, id, to, fromStrs)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *Repository) InsertRecipients(ctx context.Context, workspaceID, campaignID string, recipients []Recipient) error {
	if len(recipients) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO campaign_recipients (
  id, workspace_id, campaign_id, phone, name, variables, status, attempts, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$8)
`
		for i := range recipients {
			rec := &recipients[i]
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			rec.WorkspaceID = workspaceID
			rec.CampaignID = campaignID
			rec.Status = RecipientStatusPending

			vars, err := marshalVariables(rec.Variables)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, q,
				rec.ID, workspaceID, campaignID, rec.Phone, rec.Name, vars, rec.Status, now,
			); err != nil {
				return err
			}
		}

		const upd = `
UPDATE campaigns
SET total_recipients = total_recipients + $3, updated_at = NOW()
WHERE workspace_id = $1 AND id = $2
`
		_, err := tx.ExecContext(ctx, upd, workspaceID, campaignID, len(recipients))
		return err
	})
}

// ClaimPending atomically claims up to limit pending recipients for a wave.
// SKIP LOCKED lets concurrent refill workers drain the same campaign without
// double-claiming rows.
func (r *Repository) ClaimPending(ctx context.Context, workspaceID, campaignID string, limit int) ([]Recipient, error) {
	var out []Recipient

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT id, workspace_id, campaign_id, phone, name, variables, status,
       provider_call_id, attempts, last_error, created_at, updated_at
FROM campaign_recipients
WHERE workspace_id = $1 AND campaign_id = $2 AND status = 'pending'
ORDER BY created_at
LIMIT $3
FOR UPDATE SKIP LOCKED
`
		rows, err := tx.QueryContext(ctx, q, workspaceID, campaignID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecipient(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}

		const upd = `
UPDATE campaign_recipients SET status = 'queued', updated_at = NOW() WHERE id = ANY($1)
`
		ids := make([]string, 0, len(out))
		for i := range out {
			out[i].Status = RecipientStatusQueued
			ids = append(ids, out[i].ID)
		}
		_, err = tx.ExecContext(ctx, upd, ids)
		return err
	})

	return out, err
}

// ReleaseToPending returns claimed recipients to the pool, e.g. when the
// calling window is closed or a wave was cancelled before dialing.
func (r *Repository) ReleaseToPending(ctx context.Context, workspaceID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	const q = `
UPDATE campaign_recipients
SET status = 'pending', updated_at = NOW()
WHERE workspace_id = $1 AND id = ANY($2) AND status = 'queued'
`
	_, err := r.db.ExecContext(ctx, q, workspaceID, recipientIDs)
	return err
}

func (r *Repository) MarkCalling(ctx context.Context, workspaceID, recipientID, providerCallID string, attempts int) error {
	const q = `
UPDATE campaign_recipients
SET status = 'calling', provider_call_id = $3, attempts = $4, last_error = '', updated_at = NOW()
WHERE workspace_id = $1 AND id = $2
`
	_, err := r.db.ExecContext(ctx, q, workspaceID, recipientID, providerCallID, attempts)
	return err
}

// MarkOutcome records a terminal recipient status. It only moves forward:
// a completed or failed recipient is never overwritten by a late update.
func (r *Repository) MarkOutcome(ctx context.Context, workspaceID, recipientID string, status RecipientStatus, lastError string, attempts int) (bool, error) {
	const q = `
UPDATE campaign_recipients
SET status = $3, last_error = $4, attempts = GREATEST(attempts, $5), updated_at = NOW()
WHERE workspace_id = $1 AND id = $2 AND status NOT IN ('completed','failed')
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, recipientID, status, lastError, attempts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) FindRecipientByProviderCallID(ctx context.Context, providerCallID string) (Recipient, error) {
	const q = `
SELECT id, workspace_id, campaign_id, phone, name, variables, status,
       provider_call_id, attempts, last_error, created_at, updated_at
FROM campaign_recipients
WHERE provider_call_id = $1
LIMIT 1
`
	rows, err := r.db.QueryContext(ctx, q, providerCallID)
	if err != nil {
		return Recipient{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Recipient{}, err
		}
		return Recipient{}, ErrNotFound
	}
	return scanRecipient(rows)
}

// CounterDelta is applied with atomic increments, never read-modify-write.
type CounterDelta struct {
	Completed int
	Failed    int
	Skipped   int
}

func (r *Repository) IncrementCounters(ctx context.Context, workspaceID, campaignID string, d CounterDelta) error {
	if d.Completed == 0 && d.Failed == 0 && d.Skipped == 0 {
		return nil
	}
	const q = `
UPDATE campaigns
SET completed_calls = completed_calls + $3,
    failed_calls = failed_calls + $4,
    skipped_calls = skipped_calls + $5,
    updated_at = NOW()
WHERE workspace_id = $1 AND id = $2
`
	_, err := r.db.ExecContext(ctx, q, workspaceID, campaignID, d.Completed, d.Failed, d.Skipped)
	return err
}

// CompleteIfDrained flips an active campaign to completed once no recipient
// can still produce a call. The status guard makes concurrent webhook
// deliveries converge on a single transition.
func (r *Repository) CompleteIfDrained(ctx context.Context, workspaceID, campaignID string) (bool, error) {
	const q = `
UPDATE campaigns c
SET status = 'completed', updated_at = NOW()
WHERE c.workspace_id = $1 AND c.id = $2 AND c.status = 'active'
  AND NOT EXISTS (
    SELECT 1 FROM campaign_recipients r
    WHERE r.campaign_id = c.id AND r.status IN ('pending','queued','calling')
  )
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, campaignID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SkipRemaining marks every not-yet-dialed recipient skipped, used when a
// campaign is cancelled. Returns how many rows moved.
func (r *Repository) SkipRemaining(ctx context.Context, workspaceID, campaignID, reason string) (int, error) {
	const q = `
UPDATE campaign_recipients
SET status = 'skipped', last_error = $3, updated_at = NOW()
WHERE workspace_id = $1 AND campaign_id = $2 AND status IN ('pending','queued')
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, campaignID, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *Repository) CountPending(ctx context.Context, workspaceID, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM campaign_recipients
WHERE workspace_id = $1 AND campaign_id = $2 AND status = 'pending'
`
	var n int
	err := r.db.QueryRowContext(ctx, q, workspaceID, campaignID).Scan(&n)
	return n, err
}

// CountActiveCalls reports calls the provider has accepted but not ended.
func (r *Repository) CountActiveCalls(ctx context.Context, workspaceID, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM campaign_recipients
WHERE workspace_id = $1 AND campaign_id = $2 AND status = 'calling'
`
	var n int
	err := r.db.QueryRowContext(ctx, q, workspaceID, campaignID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var hours []byte
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &c.AssistantID, &c.Status,
		&c.PromptTemplate, &c.ModelProvider, &c.Model, &hours,
		&c.TotalRecipients, &c.CompletedCalls, &c.FailedCalls, &c.SkippedCalls,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	if len(hours) > 0 {
		var h schedule.BusinessHours
		if err := json.Unmarshal(hours, &h); err != nil {
			return Campaign{}, err
		}
		c.Hours = &h
	}
	return c, nil
}

func scanRecipient(row rowScanner) (Recipient, error) {
	var rec Recipient
	var vars []byte
	err := row.Scan(
		&rec.ID, &rec.WorkspaceID, &rec.CampaignID, &rec.Phone, &rec.Name, &vars, &rec.Status,
		&rec.ProviderCallID, &rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &rec.Variables); err != nil {
			return Recipient{}, err
		}
	}
	return rec, nil
}

func marshalHours(h *schedule.BusinessHours) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}

func marshalVariables(v map[string]string) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}
