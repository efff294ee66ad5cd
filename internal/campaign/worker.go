package campaign

import (
	"context"
	"time"

	"voicecampaign-platform/pkg/logger"
)

// TaskSource is the worker's view of the refill queue. Matched by *RefillQueue.
// Enqueue is needed to put a task back after a transient wave failure.
type TaskSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (RefillTask, bool, error)
	Enqueue(ctx context.Context, task RefillTask) error
}

// Worker drains the refill queue and runs waves. Run one or more per process;
// the SKIP LOCKED claim keeps workers from double-dialing recipients.
type Worker struct {
	queue TaskSource
	svc   *Service

	// pollTimeout bounds each blocking pop so shutdown stays responsive.
	pollTimeout time.Duration
}

const (
	maxTaskRetries = 3
	taskRetryDelay = 5 * time.Second
)

func NewWorker(queue TaskSource, svc *Service) *Worker {
	return &Worker{queue: queue, svc: svc, pollTimeout: 5 * time.Second}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log := logger.From(ctx)
	log.Info("refill worker started")

	for {
		if ctx.Err() != nil {
			log.Info("refill worker stopped")
			return
		}

		task, ok, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("refill worker stopped")
				return
			}
			log.Error("refill dequeue failed", "err", err)
			if !sleepFor(ctx, time.Second) {
				return
			}
			continue
		}
		if !ok {
			continue
		}

		// The queue holds back deferred tasks until they are due, so every
		// task that arrives here is ready to run.
		if err := w.svc.RunWave(ctx, task.WorkspaceID, task.CampaignID); err != nil {
			log.Error("wave failed",
				"workspace_id", task.WorkspaceID,
				"campaign_id", task.CampaignID,
				"reason", task.Reason,
				"attempts", task.Attempts,
				"err", err)
			// BRPOP already consumed the task; put it back so a transient DB
			// blip does not stall the campaign. Bounded to avoid hot-looping
			// on a permanently broken task.
			if task.Attempts < maxTaskRetries {
				task.Attempts++
				task.NotBefore = time.Now().Add(taskRetryDelay)
				if qerr := w.queue.Enqueue(ctx, task); qerr != nil {
					log.Error("refill requeue failed", "campaign_id", task.CampaignID, "err", qerr)
				}
			}
		}
	}
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
