package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"voicecampaign-platform/internal/reconcile"
	"voicecampaign-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce workspace filtering.
// - Implementations should query immutable sources (wallet ledger, call records).

type Repository interface {
	ListCallRecords(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]reconcile.CallRecord, error)
	ListWalletLedger(ctx context.Context, workspaceID string, from, to time.Time, walletID string) ([]wallet.LedgerEntry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.WorkspaceID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCallRecords(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	connected := 0
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.CostMinor != nil {
			out.TotalCostMinor += *c.CostMinor
			out.BilledMinutes += c.BilledMinutes
		}
		switch c.Outcome {
		case reconcile.OutcomeAnswered:
			out.AnsweredCalls++
		case reconcile.OutcomeNoAnswer:
			out.NoAnswerCalls++
		case reconcile.OutcomeBusy:
			out.BusyCalls++
		case reconcile.OutcomeVoicemail:
			out.VoicemailCalls++
		case reconcile.OutcomeDeclined:
			out.DeclinedCalls++
		case reconcile.OutcomeError:
			out.ErrorCalls++
		}
		if reconcile.IsConnected(c.Outcome) {
			connected++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConnectionRate = float64(connected) / float64(out.TotalCalls)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.WorkspaceID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	ledgers, err := s.repo.ListWalletLedger(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.WalletID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{WorkspaceID: req.WorkspaceID, WalletID: req.WalletID, Currency: req.Currency}
	for _, l := range ledgers {
		// currency normalization: if request specified currency, filter; else populate from first row.
		if out.Currency == "" {
			out.Currency = l.Currency
		}
		if req.Currency != "" && l.Currency != req.Currency {
			continue
		}

		if l.AmountMinor > 0 {
			out.TotalCreditMinor += l.AmountMinor
		} else {
			out.TotalDebitMinor += -l.AmountMinor
		}

		// Call charges carry a call_charge idempotency key; other debits are
		// fees or adjustments.
		if l.AmountMinor < 0 && strings.HasPrefix(l.IdempotencyKey, "call_charge:") {
			out.CallSpendMinor += -l.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
