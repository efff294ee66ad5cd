package campaign

import (
	"context"
	"strings"
	"time"

	"voicecampaign-platform/internal/dispatch"
	"voicecampaign-platform/internal/schedule"
	"voicecampaign-platform/pkg/logger"
)

// Store is the persistence surface the service needs. Implemented by *Repository.
type Store interface {
	GetCampaign(ctx context.Context, workspaceID, id string) (Campaign, error)
	TransitionStatus(ctx context.Context, workspaceID, id string, to CampaignStatus, from ...CampaignStatus) error

	ClaimPending(ctx context.Context, workspaceID, campaignID string, limit int) ([]Recipient, error)
	ReleaseToPending(ctx context.Context, workspaceID string, recipientIDs []string) error
	SkipRemaining(ctx context.Context, workspaceID, campaignID, reason string) (int, error)

	MarkCalling(ctx context.Context, workspaceID, recipientID, providerCallID string, attempts int) error
	MarkOutcome(ctx context.Context, workspaceID, recipientID string, status RecipientStatus, lastError string, attempts int) (bool, error)

	IncrementCounters(ctx context.Context, workspaceID, campaignID string, d CounterDelta) error
	CompleteIfDrained(ctx context.Context, workspaceID, campaignID string) (bool, error)

	CountPending(ctx context.Context, workspaceID, campaignID string) (int, error)
	CountActiveCalls(ctx context.Context, workspaceID, campaignID string) (int, error)
}

// WaveRunner dispatches one batch of recipients. Matched by *dispatch.BatchRunner.
type WaveRunner interface {
	Run(ctx context.Context, req dispatch.BatchRequest) dispatch.BatchResult
}

// Refiller enqueues future wave work. Matched by *RefillQueue.
type Refiller interface {
	Enqueue(ctx context.Context, task RefillTask) error
}

type ServiceConfig struct {
	// ConcurrencyTarget caps a campaign's simultaneously active calls. Each
	// wave claims at most the remaining headroom.
	ConcurrencyTarget int
	DefaultTimezone   string
}

// Service owns campaign lifecycle and wave orchestration. Terminal webhook
// handling lives in the reconcile package; it moves recipients out of the
// calling state and enqueues the refill tasks this service consumes.
type Service struct {
	store  Store
	runner WaveRunner
	queue  Refiller
	cfg    ServiceConfig

	now func() time.Time
}

func NewService(store Store, runner WaveRunner, queue Refiller, cfg ServiceConfig) *Service {
	if cfg.ConcurrencyTarget <= 0 {
		cfg.ConcurrencyTarget = 3
	}
	return &Service{store: store, runner: runner, queue: queue, cfg: cfg, now: time.Now}
}

// Start activates a campaign and seeds the first wave.
func (s *Service) Start(ctx context.Context, workspaceID, campaignID string) error {
	if err := s.store.TransitionStatus(ctx, workspaceID, campaignID, CampaignStatusActive,
		CampaignStatusDraft, CampaignStatusPaused); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, RefillTask{
		WorkspaceID: workspaceID,
		CampaignID:  campaignID,
		Reason:      "start",
	})
}

func (s *Service) Pause(ctx context.Context, workspaceID, campaignID string) error {
	return s.store.TransitionStatus(ctx, workspaceID, campaignID, CampaignStatusPaused, CampaignStatusActive)
}

func (s *Service) Resume(ctx context.Context, workspaceID, campaignID string) error {
	return s.Start(ctx, workspaceID, campaignID)
}

// Cancel stops a campaign permanently. Recipients that never got a call are
// marked skipped so the counters still account for every row.
func (s *Service) Cancel(ctx context.Context, workspaceID, campaignID string) error {
	if err := s.store.TransitionStatus(ctx, workspaceID, campaignID, CampaignStatusCancelled,
		CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused); err != nil {
		return err
	}
	n, err := s.store.SkipRemaining(ctx, workspaceID, campaignID, "campaign cancelled")
	if err != nil {
		return err
	}
	if n > 0 {
		return s.store.IncrementCounters(ctx, workspaceID, campaignID, CounterDelta{Skipped: n})
	}
	return nil
}

// RunWave claims up to the campaign's free concurrency headroom and dispatches
// it. Invoked by the refill worker; never called concurrently for the same
// campaign thanks to the SKIP LOCKED claim.
func (s *Service) RunWave(ctx context.Context, workspaceID, campaignID string) error {
	log := logger.From(ctx)

	c, err := s.store.GetCampaign(ctx, workspaceID, campaignID)
	if err != nil {
		return err
	}
	if c.Status != CampaignStatusActive {
		log.Info("wave skipped, campaign not active",
			"campaign_id", campaignID, "status", string(c.Status))
		return nil
	}

	now := s.now()
	if !schedule.IsWithinWindow(c.Hours, s.cfg.DefaultTimezone, now) {
		return s.deferToNextWindow(ctx, c, now)
	}

	active, err := s.store.CountActiveCalls(ctx, workspaceID, campaignID)
	if err != nil {
		return err
	}
	headroom := s.cfg.ConcurrencyTarget - active
	if headroom <= 0 {
		// Every slot is on a live call; the terminal webhooks will refill.
		return nil
	}

	claimed, err := s.store.ClaimPending(ctx, workspaceID, campaignID, headroom)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		done, err := s.store.CompleteIfDrained(ctx, workspaceID, campaignID)
		if err != nil {
			return err
		}
		if done {
			log.Info("campaign completed", "campaign_id", campaignID)
		}
		return nil
	}

	recipients := make([]dispatch.Recipient, 0, len(claimed))
	for _, rec := range claimed {
		recipients = append(recipients, dispatch.Recipient{
			ID:        rec.ID,
			Phone:     rec.Phone,
			Name:      rec.Name,
			Variables: rec.Variables,
		})
	}

	res := s.runner.Run(ctx, dispatch.BatchRequest{
		WorkspaceID:    workspaceID,
		AssistantID:    c.AssistantID,
		PromptTemplate: c.PromptTemplate,
		ModelProvider:  c.ModelProvider,
		Model:          c.Model,
		Recipients:     recipients,
		Hours:          c.Hours,
		ShouldContinue: func(ctx context.Context) bool {
			cur, err := s.store.GetCampaign(ctx, workspaceID, campaignID)
			if err != nil {
				return true // transient read failure must not kill the wave
			}
			return cur.Status == CampaignStatusActive
		},
	})

	if err := s.persistWave(ctx, workspaceID, campaignID, res); err != nil {
		return err
	}

	log.Info("wave dispatched",
		"campaign_id", campaignID,
		"claimed", len(claimed),
		"successful", res.Successful,
		"failed", res.Failed,
		"skipped", res.Skipped)

	// Synchronous failures free slots without a terminal webhook, so keep the
	// queue moving ourselves.
	if res.Failed > 0 {
		if pending, err := s.store.CountPending(ctx, workspaceID, campaignID); err == nil && pending > 0 {
			if err := s.queue.Enqueue(ctx, RefillTask{
				WorkspaceID: workspaceID,
				CampaignID:  campaignID,
				Reason:      "capacity_freed",
			}); err != nil {
				log.Warn("refill enqueue failed", "campaign_id", campaignID, "err", err)
			}
		}
	}

	if _, err := s.store.CompleteIfDrained(ctx, workspaceID, campaignID); err != nil {
		return err
	}
	return nil
}

func (s *Service) persistWave(ctx context.Context, workspaceID, campaignID string, res dispatch.BatchResult) error {
	var delta CounterDelta
	var toRelease []string

	for _, r := range res.Results {
		switch r.Status {
		case dispatch.StatusSuccess:
			if err := s.store.MarkCalling(ctx, workspaceID, r.RecipientID, r.ProviderCallID, r.Attempts); err != nil {
				return err
			}
		case dispatch.StatusFailed, dispatch.StatusConcurrencyLimited:
			moved, err := s.store.MarkOutcome(ctx, workspaceID, r.RecipientID, RecipientStatusFailed, normalizeReason(r.Reason), r.Attempts)
			if err != nil {
				return err
			}
			if moved {
				delta.Failed++
			}
		case dispatch.StatusSkipped:
			// Skips are scheduling outcomes: the recipient goes back to the
			// pool and is retried when the queue comes around again.
			toRelease = append(toRelease, r.RecipientID)
		}
	}

	if len(toRelease) > 0 {
		if err := s.store.ReleaseToPending(ctx, workspaceID, toRelease); err != nil {
			return err
		}
	}
	return s.store.IncrementCounters(ctx, workspaceID, campaignID, delta)
}

func (s *Service) deferToNextWindow(ctx context.Context, c Campaign, now time.Time) error {
	task := RefillTask{
		WorkspaceID: c.WorkspaceID,
		CampaignID:  c.ID,
		Reason:      "window_closed",
	}
	if next, ok := schedule.NextWindow(c.Hours, s.cfg.DefaultTimezone, now); ok {
		task.NotBefore = next
	} else {
		// No window at all; retry in an hour in case the config changes.
		task.NotBefore = now.Add(time.Hour)
	}
	logger.From(ctx).Info("calling window closed, wave deferred",
		"campaign_id", c.ID, "not_before", task.NotBefore.Format(time.RFC3339))
	return s.queue.Enqueue(ctx, task)
}

// OnCallEnded is invoked by the reconciler for every terminal call. It keeps
// the pipeline full by enqueueing the next wave.
func (s *Service) OnCallEnded(ctx context.Context, workspaceID, campaignID string) error {
	return s.queue.Enqueue(ctx, RefillTask{
		WorkspaceID: workspaceID,
		CampaignID:  campaignID,
		Reason:      "call_ended",
	})
}

// normalizeReason trims provider error text for storage.
func normalizeReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return reason
}
