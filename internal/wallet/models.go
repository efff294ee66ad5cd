package wallet

import "time"

// Wallet is a workspace-scoped money account funding outbound calls.
// Invariant: available balance must be derived from immutable ledger entries.
// No code should ever mutate a "balance" without writing a corresponding ledger entry.
type Wallet struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Currency    string `json:"currency" db:"currency"`

	// BillingMode decides whether debits are bounded by the balance.
	BillingMode BillingMode  `json:"billing_mode" db:"billing_mode"`
	Status      WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

type BillingMode string

const (
	// BillingModePrepaid rejects debits that would push the balance negative.
	BillingModePrepaid BillingMode = "prepaid"
	// BillingModePostpaid lets the balance go negative; usage is invoiced later.
	BillingModePostpaid BillingMode = "postpaid"
)

// LedgerEntry is an immutable append-only row. Each entry represents one
// credit or debit posted to the wallet.
//
// Multi-tenant invariant: workspace_id required.
// Money invariant: any balance change MUST have a corresponding ledger entry.
type LedgerEntry struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	WalletID    string `json:"wallet_id" db:"wallet_id"`

	Type LedgerEntryType `json:"type" db:"type"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	// Credits are positive, debits are negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef is optional: call_id, campaign_id, provider_event_id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// Metadata is optional JSON for debugging (store as JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, adjustment
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // call usage charge
)
