package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call outcome metrics.
// Workspace isolation: WorkspaceID is required.

type CallsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	CampaignID  string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	VoicemailCalls int `json:"voicemail_calls"`
	DeclinedCalls  int `json:"declined_calls"`
	ErrorCalls     int `json:"error_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// ConnectionRate = (answered + voicemail) / total.
	ConnectionRate float64 `json:"connection_rate"`

	TotalCostMinor int64 `json:"total_cost_minor"`
	BilledMinutes  int   `json:"billed_minutes"`
}

// SpendSummaryRequest requests aggregated spend metrics.
// Spend is derived from immutable wallet ledger entries scoped to workspace.

type SpendSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	WalletID    string    `json:"wallet_id,omitempty"`
	Currency    string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	WorkspaceID string `json:"workspace_id"`
	WalletID    string `json:"wallet_id,omitempty"`
	Currency    string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	CallSpendMinor int64 `json:"call_spend_minor"`
}
