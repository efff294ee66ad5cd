package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicecampaign-platform/pkg/utils"

	"github.com/google/uuid"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations must be executed in a DB transaction
//
// Tenancy invariant:
// - workspace_id is required and enforced in all queries
//
// Balance strategy:
// - Balance is stored in a projection table (wallet_balances) updated atomically
//   alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type Balance struct {
	WorkspaceID  string    `json:"workspace_id"`
	WalletID     string    `json:"wallet_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

type DebitRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrWalletDisabled    = errors.New("wallet disabled")
)

func (s *Service) GetBalance(ctx context.Context, workspaceID, walletID string) (Balance, error) {
	if workspaceID == "" || walletID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, workspaceID, walletID)
}

// GetWorkspaceWallet resolves the workspace's single wallet. Campaign billing
// never addresses wallets by id directly.
func (s *Service) GetWorkspaceWallet(ctx context.Context, workspaceID string) (Wallet, error) {
	if workspaceID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return getWorkspaceWallet(ctx, s.db, workspaceID)
}

func (s *Service) Credit(ctx context.Context, workspaceID, walletID string, req CreditRequest) (LedgerEntry, Balance, error) {
	if err := validateMoneyReq(workspaceID, walletID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	if req.AmountMinor <= 0 {
		return LedgerEntry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger LedgerEntry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Ensure wallet exists + currency matches.
		w, err := lockWallet(ctx, tx, workspaceID, walletID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}

		// Idempotency: if a ledger entry already exists for this wallet+key, return it and the balance.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, workspaceID, walletID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, workspaceID, walletID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := LedgerEntry{
			ID:             ledgerID,
			WorkspaceID:    workspaceID,
			WalletID:       walletID,
			Type:           LedgerEntryTypeCredit,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		// Projection update.
		b, err := applyBalanceDelta(ctx, tx, workspaceID, walletID, req.Currency, req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

// Debit posts a usage charge. Prepaid wallets are bounded by their balance;
// postpaid wallets may go negative and are settled by invoice.
func (s *Service) Debit(ctx context.Context, workspaceID, walletID string, req DebitRequest) (LedgerEntry, Balance, error) {
	if err := validateMoneyReq(workspaceID, walletID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	if req.AmountMinor <= 0 {
		return LedgerEntry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger LedgerEntry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, workspaceID, walletID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}
		if w.Status == WalletStatusDisabled {
			return ErrWalletDisabled
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, workspaceID, walletID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, workspaceID, walletID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		// Funds check locks the projection row. Postpaid wallets skip it.
		// A wallet that was never credited has no projection row yet; that
		// reads as a zero balance, not an error.
		b, err := getBalanceForUpdate(ctx, tx, workspaceID, walletID)
		if errors.Is(err, ErrNotFound) {
			b = Balance{WorkspaceID: workspaceID, WalletID: walletID, Currency: w.Currency}
		} else if err != nil {
			return err
		}
		if b.Currency != req.Currency {
			return ErrInvalidArgument
		}
		if w.BillingMode != BillingModePostpaid && b.BalanceMinor < req.AmountMinor {
			return ErrInsufficientFunds
		}

		entry := LedgerEntry{
			ID:             ledgerID,
			WorkspaceID:    workspaceID,
			WalletID:       walletID,
			Type:           LedgerEntryTypeDebit,
			AmountMinor:    -req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		out, err := applyBalanceDelta(ctx, tx, workspaceID, walletID, req.Currency, -req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = out
		return nil
	})

	return outLedger, outBal, err
}

func validateMoneyReq(workspaceID, walletID string, amountMinor int64, currency, idempotencyKey string) error {
	if workspaceID == "" || walletID == "" {
		return ErrInvalidArgument
	}
	if currency == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor == 0 {
		return ErrInvalidArgument
	}
	return nil
}
