package reconcile

import (
	"encoding/json"
	"time"
)

// CallRecord is the durable, provider-agnostic record of one outbound call.
// Rows are keyed by the provider's call id (external_id) because webhook
// deliveries arrive out of order and must converge on one row.
//
// Merge invariant: updates are additive. A field that already holds data is
// never overwritten with an empty value by a later, sparser event.
type CallRecord struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty" db:"campaign_id"`
	RecipientID string `json:"recipient_id,omitempty" db:"recipient_id"`

	Provider   string `json:"provider" db:"provider"`
	ExternalID string `json:"external_id" db:"external_id"`

	AssistantID string `json:"assistant_id,omitempty" db:"assistant_id"`
	Phone       string `json:"phone,omitempty" db:"phone"`

	Status      string      `json:"status,omitempty" db:"status"`
	Outcome     CallOutcome `json:"outcome,omitempty" db:"outcome"`
	EndedReason string      `json:"ended_reason,omitempty" db:"ended_reason"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	Transcript   string `json:"transcript,omitempty" db:"transcript"`
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	Summary      string `json:"summary,omitempty" db:"summary"`
	Sentiment    string `json:"sentiment,omitempty" db:"sentiment"`

	// ProviderCost is the provider-reported call cost in major units. Audit
	// data only; the platform bills from duration via CostMinor.
	ProviderCost float64 `json:"provider_cost,omitempty" db:"provider_cost"`

	// Metadata preserves the raw provider payload for audit.
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	// CostMinor doubles as the billing idempotency marker: non-null means the
	// call has been charged (possibly for zero).
	CostMinor     *int64     `json:"cost_minor,omitempty" db:"cost_minor"`
	BilledMinutes int        `json:"billed_minutes" db:"billed_minutes"`
	BilledAt      *time.Time `json:"billed_at,omitempty" db:"billed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CallOutcome is the business-level classification of a terminal call.
type CallOutcome string

const (
	OutcomeAnswered  CallOutcome = "answered"
	OutcomeNoAnswer  CallOutcome = "no_answer"
	OutcomeBusy      CallOutcome = "busy"
	OutcomeVoicemail CallOutcome = "voicemail"
	OutcomeDeclined  CallOutcome = "declined"
	OutcomeError     CallOutcome = "error"
)
