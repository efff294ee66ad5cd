package billing

import (
	"context"
	"errors"
	"time"
)

// Rate models are tenant-scoped (workspace_id required everywhere).
// Amounts are expressed in minor units (e.g., cents) using int64.

// MinuteRate defines the per-minute charge for a workspace's outbound calls.
type MinuteRate struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Currency string `json:"currency" db:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	// Effective window for the rate.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status RateStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

// RateRepository abstracts rate persistence.
// Implementation can be Postgres, cached, etc.
type RateRepository interface {
	FindMinuteRate(ctx context.Context, workspaceID string, at time.Time) (MinuteRate, bool, error)
}

var ErrInvalidRateReq = errors.New("invalid rate request")

// Resolver selects the effective minute rate for a workspace, falling back to
// the platform default when the workspace has no override row.
type Resolver struct {
	repo RateRepository

	defaultRateMinor int64
	defaultCurrency  string

	clock func() time.Time
}

func NewResolver(repo RateRepository, defaultRateMinor int64, defaultCurrency string) *Resolver {
	return &Resolver{
		repo:             repo,
		defaultRateMinor: defaultRateMinor,
		defaultCurrency:  defaultCurrency,
		clock:            time.Now,
	}
}

// Resolve returns the rate to bill a workspace at the given time. A missing
// workspace override is not an error.
func (r *Resolver) Resolve(ctx context.Context, workspaceID string, at time.Time) (MinuteRate, error) {
	if workspaceID == "" {
		return MinuteRate{}, ErrInvalidRateReq
	}
	if at.IsZero() {
		at = r.clock().UTC()
	}

	if r.repo != nil {
		rate, ok, err := r.repo.FindMinuteRate(ctx, workspaceID, at)
		if err != nil {
			return MinuteRate{}, err
		}
		if ok {
			return rate, nil
		}
	}

	return MinuteRate{
		WorkspaceID:             workspaceID,
		Currency:                r.defaultCurrency,
		RatePerMinuteMinor:      r.defaultRateMinor,
		BillingIncrementSeconds: 60,
	}, nil
}

// CostFor computes the charge for a call of the given duration.
func CostFor(rate MinuteRate, durationSeconds int) (minutes int, totalMinor int64) {
	sec := billableSeconds(durationSeconds, rate.MinimumBillableSeconds, rate.BillingIncrementSeconds)
	minutes = billableMinutesFromSeconds(sec)
	totalMinor = rate.RatePerMinuteMinor * int64(minutes)
	return minutes, totalMinor
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec <= 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
