package campaign

import (
	"time"

	"voicecampaign-platform/internal/schedule"
)

// Campaign is a tenant-scoped outbound calling campaign.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Counter invariant: completed_calls + failed_calls + skipped_calls never
// exceeds total_recipients. Counters are only moved with atomic SQL increments,
// never read-modify-write, because webhook deliveries race each other.
type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Name        string `json:"name" db:"name"`
	AssistantID string `json:"assistant_id" db:"assistant_id"`

	Status CampaignStatus `json:"status" db:"status"`

	// PromptTemplate is rendered per recipient with {{variable}} placeholders.
	PromptTemplate string `json:"prompt_template,omitempty" db:"prompt_template"`
	ModelProvider  string `json:"model_provider,omitempty" db:"model_provider"`
	Model          string `json:"model,omitempty" db:"model"`

	// Hours is the calling window config, stored as JSONB. Nil means always open.
	Hours *schedule.BusinessHours `json:"hours,omitempty" db:"hours"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	CompletedCalls  int `json:"completed_calls" db:"completed_calls"`
	FailedCalls     int `json:"failed_calls" db:"failed_calls"`
	SkippedCalls    int `json:"skipped_calls" db:"skipped_calls"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Recipient is one phone number inside a campaign.
type Recipient struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`

	Phone string `json:"phone" db:"phone"`
	Name  string `json:"name,omitempty" db:"name"`

	// Variables feed the prompt template (stored as JSONB).
	Variables map[string]string `json:"variables,omitempty" db:"variables"`

	Status RecipientStatus `json:"status" db:"status"`

	// ProviderCallID links the recipient to the provider call once dialed.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Attempts  int    `json:"attempts" db:"attempts"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	// RecipientStatusQueued means claimed by a wave but not yet dialed.
	RecipientStatusQueued RecipientStatus = "queued"
	// RecipientStatusCalling means the provider accepted the call; the
	// terminal webhook moves it to completed or failed.
	RecipientStatusCalling   RecipientStatus = "calling"
	RecipientStatusCompleted RecipientStatus = "completed"
	RecipientStatusFailed    RecipientStatus = "failed"
	RecipientStatusSkipped   RecipientStatus = "skipped"
)
