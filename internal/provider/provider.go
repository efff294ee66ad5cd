package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Dialer is the provider-agnostic interface used by dispatch logic.
//
// Rules:
// - No provider SDK calls outside provider adapters.
// - Keep request/response types provider-agnostic; raw payloads travel in metadata.
type Dialer interface {
	Name() string
	HealthCheck(ctx context.Context) error

	StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error)
}

// StartCallRequest describes one outbound call to place.
type StartCallRequest struct {
	WorkspaceID string `json:"workspace_id"`

	// AssistantID selects the voice-AI agent at the provider.
	AssistantID string `json:"assistant_id"`

	// PhoneNumberID is the provider-side caller number resource.
	PhoneNumberID string `json:"phone_number_id"`

	// CustomerNumber must be E.164.
	CustomerNumber string `json:"customer_number"`
	CustomerName   string `json:"customer_name,omitempty"`

	// SystemPrompt optionally overrides the assistant's prompt (already templated).
	SystemPrompt  string `json:"system_prompt,omitempty"`
	ModelProvider string `json:"model_provider,omitempty"`
	Model         string `json:"model,omitempty"`
}

type StartCallResult struct {
	// ProviderCallID is the provider's unique identifier for the placed call.
	// It is the idempotency key joining dispatch and webhook reconciliation.
	ProviderCallID string `json:"provider_call_id"`
}

// NormalizedCallEvent is the canonical shape every provider webhook payload is
// reduced to. One Normalize* function exists per provider; heterogeneous
// payload probing stays inside the adapter.
type NormalizedCallEvent struct {
	Provider    string `json:"provider"`
	EventType   string `json:"event_type"`
	ExternalID  string `json:"external_id"`
	AssistantID string `json:"assistant_id"`

	Status      string `json:"status,omitempty"`
	EndedReason string `json:"ended_reason,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is derived from timestamps when the provider omits it,
	// clamped to >= 0.
	DurationSeconds int `json:"duration_seconds"`

	Transcript   string `json:"transcript,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Sentiment    string `json:"sentiment,omitempty"`

	// Cost is the provider-reported cost in major units (e.g. dollars).
	// Internal billing is computed from duration; this is audit data.
	Cost float64 `json:"cost,omitempty"`

	// Raw preserves the provider payload for audit.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Terminal reports whether the event describes a completed call that should be
// reconciled and billed.
func (e NormalizedCallEvent) Terminal() bool {
	return e.EventType == EventEndOfCallReport
}

// Event types shared across providers after normalization.
const (
	EventStatusUpdate    = "status-update"
	EventEndOfCallReport = "end-of-call-report"
)
