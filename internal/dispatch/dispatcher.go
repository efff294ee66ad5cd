package dispatch

import (
	"context"
	"time"

	"voicecampaign-platform/internal/provider"
)

// ResultStatus classifies the terminal state of one dispatch attempt chain.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailed  ResultStatus = "failed"
	// StatusConcurrencyLimited is distinguished from generic failure so the
	// batch runner can escalate its cooldown instead of burning recipients.
	StatusConcurrencyLimited ResultStatus = "concurrency_limited"
	StatusSkipped            ResultStatus = "skipped"
)

// Recipient is one phone number plus templating variables within a campaign.
type Recipient struct {
	ID        string
	Phone     string
	Name      string
	Variables map[string]string
}

// CallSpec carries everything needed to place one call.
type CallSpec struct {
	WorkspaceID string
	AssistantID string

	Recipient Recipient

	// PromptTemplate is rendered with the recipient's variables before dispatch.
	PromptTemplate string
	ModelProvider  string
	Model          string
}

type Result struct {
	RecipientID    string
	Phone          string
	ProviderCallID string
	Status         ResultStatus
	Attempts       int
	Reason         string
}

// DispatcherConfig tunes per-call retry behavior.
type DispatcherConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	ConcurrencyBackoff time.Duration
}

// SlotGuard bounds simultaneous dial attempts per workspace. A denied slot is
// treated like a provider concurrency signal. Slots acquired for accepted
// calls are released by the completion path, not the dispatcher.
type SlotGuard interface {
	Acquire(ctx context.Context, workspaceID string) (bool, error)
	Release(ctx context.Context, workspaceID string)
}

// Dispatcher places one call against the provider, classifies the result, and
// retries per error class. It has no side effects beyond the outbound call.
type Dispatcher struct {
	dialer provider.Dialer
	guard  SlotGuard
	cfg    DispatcherConfig

	// sleep is injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(dialer provider.Dialer, guard SlotGuard, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.ConcurrencyBackoff <= 0 {
		cfg.ConcurrencyBackoff = 10 * time.Second
	}
	return &Dispatcher{
		dialer: dialer,
		guard:  guard,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
}

// Dispatch attempts one recipient. Outcome classes:
//   - success: provider accepted, call id recorded
//   - concurrency_limited: active-call ceiling held through all retries
//   - failed: rate-limit retries exhausted, or a terminal provider error
func (d *Dispatcher) Dispatch(ctx context.Context, spec CallSpec) Result {
	res := Result{RecipientID: spec.Recipient.ID}

	phone := NormalizePhone(spec.Recipient.Phone)
	res.Phone = phone
	if phone == "" {
		res.Status = StatusFailed
		res.Reason = "empty phone number"
		return res
	}

	req := provider.StartCallRequest{
		WorkspaceID:    spec.WorkspaceID,
		AssistantID:    spec.AssistantID,
		CustomerNumber: phone,
		CustomerName:   spec.Recipient.Name,
		ModelProvider:  spec.ModelProvider,
		Model:          spec.Model,
	}
	if spec.PromptTemplate != "" {
		req.SystemPrompt = RenderTemplate(spec.PromptTemplate, spec.Recipient.Variables)
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		if err := ctx.Err(); err != nil {
			res.Status = StatusSkipped
			res.Reason = "cancelled before dispatch"
			return res
		}

		callID, err := d.startWithSlot(ctx, req)
		if err == nil {
			res.ProviderCallID = callID
			res.Status = StatusSuccess
			return res
		}

		switch {
		case provider.IsConcurrencyLimit(err):
			if attempt > d.cfg.MaxRetries {
				res.Status = StatusConcurrencyLimited
				res.Reason = err.Error()
				return res
			}
			// Fixed backoff: the ceiling clears when active calls end.
			if serr := d.sleep(ctx, d.cfg.ConcurrencyBackoff); serr != nil {
				res.Status = StatusSkipped
				res.Reason = "cancelled during backoff"
				return res
			}

		case provider.IsRateLimited(err):
			if attempt > d.cfg.MaxRetries {
				res.Status = StatusFailed
				res.Reason = err.Error()
				return res
			}
			// Linear backoff on API rate limits.
			if serr := d.sleep(ctx, time.Duration(attempt)*d.cfg.RetryDelay); serr != nil {
				res.Status = StatusSkipped
				res.Reason = "cancelled during backoff"
				return res
			}

		default:
			// Terminal: validation, auth, and unexpected errors get no retry.
			res.Status = StatusFailed
			res.Reason = err.Error()
			return res
		}
	}
}

func (d *Dispatcher) startWithSlot(ctx context.Context, req provider.StartCallRequest) (string, error) {
	acquired := false
	if d.guard != nil {
		ok, err := d.guard.Acquire(ctx, req.WorkspaceID)
		if err == nil && !ok {
			return "", provider.ErrConcurrencyLimit
		}
		// Guard errors (redis down) must not block dialing; the provider
		// enforces the real ceiling.
		acquired = err == nil
	}

	out, err := d.dialer.StartCall(ctx, req)
	if err != nil {
		if acquired {
			d.guard.Release(ctx, req.WorkspaceID)
		}
		return "", err
	}
	return out.ProviderCallID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
