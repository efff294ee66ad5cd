package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voicecampaign-platform/internal/schedule"
	"voicecampaign-platform/pkg/logger"
)

// CallDispatcher is the single-call interface the batch runner drives.
// It matches *Dispatcher and lets tests substitute a fake.
type CallDispatcher interface {
	Dispatch(ctx context.Context, spec CallSpec) Result
}

// BatchConfig tunes chunking and pacing for one batch run.
type BatchConfig struct {
	// ChunkSize bounds within-process dial parallelism. Small on purpose:
	// the provider limit counts active calls, not API requests.
	ChunkSize          int
	ChunkDelay         time.Duration
	ConcurrencyBackoff time.Duration

	// DefaultTimezone applies when the campaign's business-hours config
	// carries no timezone of its own.
	DefaultTimezone string
}

// BatchRequest is one wave of recipients for a campaign.
type BatchRequest struct {
	WorkspaceID string
	AssistantID string

	PromptTemplate string
	ModelProvider  string
	Model          string

	Recipients []Recipient

	Hours *schedule.BusinessHours

	// ShouldContinue is polled before every chunk after the first. A false
	// return skips all not-yet-dispatched recipients; in-flight chunks are
	// never interrupted.
	ShouldContinue func(ctx context.Context) bool
}

type BatchResult struct {
	Results []Result

	Successful int
	Failed     int
	Skipped    int
}

// BatchRunner partitions a recipient list into sequential chunks, dispatches
// each chunk fully in parallel, and paces chunks. Repeated concurrency-limit
// failures escalate the inter-chunk cooldown instead of failing recipients.
type BatchRunner struct {
	dispatcher CallDispatcher
	cfg        BatchConfig

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewBatchRunner(dispatcher CallDispatcher, cfg BatchConfig) *BatchRunner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 3
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = 2 * time.Second
	}
	if cfg.ConcurrencyBackoff <= 0 {
		cfg.ConcurrencyBackoff = 10 * time.Second
	}
	return &BatchRunner{
		dispatcher: dispatcher,
		cfg:        cfg,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Run executes one batch. The business-hours gate is checked once, up front:
// a closed gate marks the entire batch skipped. A skip is a scheduling
// outcome, not a failure, so nothing is retried and nothing is billed.
func (r *BatchRunner) Run(ctx context.Context, req BatchRequest) BatchResult {
	log := logger.From(ctx)
	out := BatchResult{}

	if len(req.Recipients) == 0 {
		return out
	}

	if !schedule.IsWithinWindow(req.Hours, r.cfg.DefaultTimezone, r.now()) {
		reason := "outside business hours"
		if next, ok := schedule.NextWindow(req.Hours, r.cfg.DefaultTimezone, r.now()); ok {
			reason = fmt.Sprintf("outside business hours, next window %s", next.Format(time.RFC3339))
		}
		for _, rec := range req.Recipients {
			out.Results = append(out.Results, Result{
				RecipientID: rec.ID,
				Phone:       NormalizePhone(rec.Phone),
				Status:      StatusSkipped,
				Reason:      reason,
			})
		}
		out.Skipped = len(req.Recipients)
		log.Info("batch skipped outside business hours", "recipients", len(req.Recipients))
		return out
	}

	chunks := chunkRecipients(req.Recipients, r.cfg.ChunkSize)

	consecutiveConcurrency := 0
	nextDelay := time.Duration(0) // no delay before the first chunk

	for i, chunk := range chunks {
		if i > 0 {
			if req.ShouldContinue != nil && !req.ShouldContinue(ctx) {
				r.skipRemaining(&out, chunks[i:], "batch cancelled")
				log.Info("batch cancelled", "dispatched_chunks", i, "skipped", out.Skipped)
				return out
			}
			if err := r.sleep(ctx, nextDelay); err != nil {
				r.skipRemaining(&out, chunks[i:], "batch cancelled")
				return out
			}
		}

		results := r.dispatchChunk(ctx, req, chunk)

		hitConcurrency := false
		hitSuccess := false
		for _, res := range results {
			out.Results = append(out.Results, res)
			switch res.Status {
			case StatusSuccess:
				out.Successful++
				hitSuccess = true
			case StatusSkipped:
				out.Skipped++
			case StatusConcurrencyLimited:
				out.Failed++
				hitConcurrency = true
			default:
				out.Failed++
			}
		}

		if hitSuccess {
			consecutiveConcurrency = 0
		}
		if hitConcurrency {
			consecutiveConcurrency++
			cooldown := r.cfg.ConcurrencyBackoff
			if consecutiveConcurrency >= 2 {
				cooldown *= 2
			}
			nextDelay = cooldown
			log.Warn("concurrency limit in chunk, cooling down",
				"chunk", i, "consecutive", consecutiveConcurrency, "cooldown", cooldown)
		} else {
			nextDelay = r.cfg.ChunkDelay
		}
	}

	return out
}

// dispatchChunk fans the chunk out fully in parallel and waits for all of it.
func (r *BatchRunner) dispatchChunk(ctx context.Context, req BatchRequest, chunk []Recipient) []Result {
	results := make([]Result, len(chunk))

	var wg sync.WaitGroup
	for idx, rec := range chunk {
		wg.Add(1)
		go func(idx int, rec Recipient) {
			defer wg.Done()
			results[idx] = r.dispatcher.Dispatch(ctx, CallSpec{
				WorkspaceID:    req.WorkspaceID,
				AssistantID:    req.AssistantID,
				Recipient:      rec,
				PromptTemplate: req.PromptTemplate,
				ModelProvider:  req.ModelProvider,
				Model:          req.Model,
			})
		}(idx, rec)
	}
	wg.Wait()

	return results
}

func (r *BatchRunner) skipRemaining(out *BatchResult, remaining [][]Recipient, reason string) {
	for _, chunk := range remaining {
		for _, rec := range chunk {
			out.Results = append(out.Results, Result{
				RecipientID: rec.ID,
				Phone:       NormalizePhone(rec.Phone),
				Status:      StatusSkipped,
				Reason:      reason,
			})
			out.Skipped++
		}
	}
}

func chunkRecipients(recipients []Recipient, size int) [][]Recipient {
	var chunks [][]Recipient
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunks = append(chunks, recipients[start:end])
	}
	return chunks
}
