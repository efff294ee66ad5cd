package reconcile

import (
	"context"
	"errors"
	"time"

	"voicecampaign-platform/internal/billing"
	"voicecampaign-platform/internal/campaign"
	"voicecampaign-platform/internal/provider"
	"voicecampaign-platform/pkg/logger"
)

// RecordStore persists call records. Matched by *Repository.
type RecordStore interface {
	Upsert(ctx context.Context, rec CallRecord) (CallRecord, error)
}

// CampaignStore is the slice of the campaign repository the reconciler needs.
type CampaignStore interface {
	FindRecipientByProviderCallID(ctx context.Context, providerCallID string) (campaign.Recipient, error)
	FindCampaignByAssistant(ctx context.Context, assistantID string) (campaign.Campaign, error)
	MarkOutcome(ctx context.Context, workspaceID, recipientID string, status campaign.RecipientStatus, lastError string, attempts int) (bool, error)
	IncrementCounters(ctx context.Context, workspaceID, campaignID string, d campaign.CounterDelta) error
	CompleteIfDrained(ctx context.Context, workspaceID, campaignID string) (bool, error)
}

// Biller charges terminal calls. Matched by *billing.Meter.
type Biller interface {
	ChargeCall(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error)
}

// Refiller keeps the campaign pipeline full after a call ends.
// Matched by *campaign.Service.
type Refiller interface {
	OnCallEnded(ctx context.Context, workspaceID, campaignID string) error
}

// SlotReleaser frees the dial slot held since dispatch. Matched by the
// dispatch slot guard.
type SlotReleaser interface {
	Release(ctx context.Context, workspaceID string)
}

// Reconciler folds provider webhook events into campaign state. It implements
// provider.EventProcessor and is safe under redelivery: every step is either
// idempotent or guarded by the recipient's one-way status transition.
type Reconciler struct {
	records   RecordStore
	campaigns CampaignStore
	meter     Biller
	refiller  Refiller
	slots     SlotReleaser
}

func NewReconciler(records RecordStore, campaigns CampaignStore, meter Biller, refiller Refiller, slots SlotReleaser) *Reconciler {
	return &Reconciler{
		records:   records,
		campaigns: campaigns,
		meter:     meter,
		refiller:  refiller,
		slots:     slots,
	}
}

func (r *Reconciler) ProcessCallEvent(ctx context.Context, ev provider.NormalizedCallEvent) error {
	log := logger.From(ctx)

	rec := CallRecord{
		Provider:        ev.Provider,
		ExternalID:      ev.ExternalID,
		AssistantID:     ev.AssistantID,
		Status:          ev.Status,
		EndedReason:     ev.EndedReason,
		StartedAt:       ev.StartedAt,
		EndedAt:         ev.EndedAt,
		DurationSeconds: ev.DurationSeconds,
		Transcript:      ev.Transcript,
		RecordingURL:    ev.RecordingURL,
		Summary:         ev.Summary,
		Sentiment:       ev.Sentiment,
		ProviderCost:    ev.Cost,
		Metadata:        ev.Raw,
	}

	// Resolve tenancy: the recipient row dialed with this call id is the
	// source of truth; the assistant id is the fallback for events that
	// arrive before the dispatcher committed the call id.
	recipient, err := r.campaigns.FindRecipientByProviderCallID(ctx, ev.ExternalID)
	tracked := err == nil
	switch {
	case tracked:
		rec.WorkspaceID = recipient.WorkspaceID
		rec.CampaignID = recipient.CampaignID
		rec.RecipientID = recipient.ID
		rec.Phone = recipient.Phone
	case errors.Is(err, campaign.ErrNotFound):
		c, cerr := r.campaigns.FindCampaignByAssistant(ctx, ev.AssistantID)
		if cerr != nil {
			if errors.Is(cerr, campaign.ErrNotFound) {
				log.Warn("event for unknown call dropped",
					"provider", ev.Provider, "external_id", ev.ExternalID, "assistant_id", ev.AssistantID)
				return nil
			}
			return cerr
		}
		rec.WorkspaceID = c.WorkspaceID
		rec.CampaignID = c.ID
	default:
		return err
	}

	if ev.Terminal() {
		rec.Outcome = ClassifyOutcome(ev.EndedReason, ev.Transcript, ev.DurationSeconds)
	}

	stored, err := r.records.Upsert(ctx, rec)
	if err != nil {
		return err
	}

	if !ev.Terminal() {
		return nil
	}

	moved := false
	if tracked {
		status := campaign.RecipientStatusCompleted
		lastError := ""
		if stored.Outcome == OutcomeError {
			status = campaign.RecipientStatusFailed
			lastError = stored.EndedReason
		}
		moved, err = r.campaigns.MarkOutcome(ctx, stored.WorkspaceID, stored.RecipientID, status, lastError, recipient.Attempts)
		if err != nil {
			return err
		}
		if moved {
			delta := campaign.CounterDelta{}
			if status == campaign.RecipientStatusCompleted {
				delta.Completed = 1
			} else {
				delta.Failed = 1
			}
			if err := r.campaigns.IncrementCounters(ctx, stored.WorkspaceID, stored.CampaignID, delta); err != nil {
				return err
			}
		}
	}

	endedAt := time.Now().UTC()
	if stored.EndedAt != nil {
		endedAt = *stored.EndedAt
	}
	charge, err := r.meter.ChargeCall(ctx, billing.ChargeRequest{
		WorkspaceID:     stored.WorkspaceID,
		CallID:          stored.ID,
		DurationSeconds: stored.DurationSeconds,
		EndedAt:         endedAt,
	})
	if err != nil {
		return err
	}

	log.Info("call reconciled",
		"external_id", stored.ExternalID,
		"outcome", string(stored.Outcome),
		"duration_seconds", stored.DurationSeconds,
		"charged", charge.Charged,
		"amount_minor", charge.AmountMinor)

	// Redelivered events never moved the recipient, so they must not free a
	// slot twice or enqueue a duplicate refill.
	if !moved {
		return nil
	}

	if r.slots != nil {
		r.slots.Release(ctx, stored.WorkspaceID)
	}
	if err := r.refiller.OnCallEnded(ctx, stored.WorkspaceID, stored.CampaignID); err != nil {
		return err
	}
	if _, err := r.campaigns.CompleteIfDrained(ctx, stored.WorkspaceID, stored.CampaignID); err != nil {
		return err
	}
	return nil
}
