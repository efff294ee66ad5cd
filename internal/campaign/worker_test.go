package campaign

import (
	"context"
	"errors"
	"testing"
	"time"
)

// workerQueue feeds a fixed script of tasks and cancels the context once the
// script is exhausted, so Run returns.
type workerQueue struct {
	pending  []RefillTask
	requeued []RefillTask
	cancel   context.CancelFunc
}

func (q *workerQueue) Dequeue(ctx context.Context, timeout time.Duration) (RefillTask, bool, error) {
	if len(q.pending) == 0 {
		q.cancel()
		return RefillTask{}, false, nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	return task, true, nil
}

func (q *workerQueue) Enqueue(ctx context.Context, task RefillTask) error {
	q.requeued = append(q.requeued, task)
	return nil
}

func runWorker(t *testing.T, store *fakeStore, tasks []RefillTask) *workerQueue {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &workerQueue{pending: tasks, cancel: cancel}
	svc := NewService(store, &fakeRunner{}, &fakeQueue{}, ServiceConfig{ConcurrencyTarget: 3})
	NewWorker(q, svc).Run(ctx)
	return q
}

func TestWorker_RunsTaskWithoutRequeue(t *testing.T) {
	c := activeCampaign()
	c.Status = CampaignStatusPaused // wave is a no-op, not an error
	store := newFakeStore(c)

	q := runWorker(t, store, []RefillTask{
		{WorkspaceID: "ws_1", CampaignID: "camp_1", Reason: "start"},
	})

	if len(q.requeued) != 0 {
		t.Fatalf("expected no requeue, got %+v", q.requeued)
	}
}

func TestWorker_DeferredTaskDoesNotBlockLaterTasks(t *testing.T) {
	c := activeCampaign()
	c.Status = CampaignStatusPaused
	store := newFakeStore(c)

	// A task parked for an hour must not make the worker sleep; the queue
	// owns the deferral, the worker just runs what it is handed.
	start := time.Now()
	runWorker(t, store, []RefillTask{
		{WorkspaceID: "ws_1", CampaignID: "camp_1", Reason: "window_closed", NotBefore: time.Now().Add(time.Hour)},
		{WorkspaceID: "ws_1", CampaignID: "camp_1", Reason: "call_ended"},
	})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("worker stalled %v on a deferred task", elapsed)
	}
}

func TestWorker_RequeuesFailedTaskWithBackoff(t *testing.T) {
	store := newFakeStore(activeCampaign())
	store.getErr = errors.New("db down")

	q := runWorker(t, store, []RefillTask{
		{WorkspaceID: "ws_1", CampaignID: "camp_1", Reason: "call_ended"},
	})

	if len(q.requeued) != 1 {
		t.Fatalf("expected one requeued task, got %d", len(q.requeued))
	}
	got := q.requeued[0]
	if got.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", got.Attempts)
	}
	if got.NotBefore.IsZero() {
		t.Fatalf("expected a retry delay on the requeued task")
	}
}

func TestWorker_DropsTaskAfterRetryBudget(t *testing.T) {
	store := newFakeStore(activeCampaign())
	store.getErr = errors.New("db down")

	q := runWorker(t, store, []RefillTask{
		{WorkspaceID: "ws_1", CampaignID: "camp_1", Reason: "call_ended", Attempts: maxTaskRetries},
	})

	if len(q.requeued) != 0 {
		t.Fatalf("expected exhausted task to be dropped, got %+v", q.requeued)
	}
}
