package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefillTask asks a worker to dispatch the next wave of one campaign.
// Tasks are produced by campaign start and by terminal call webhooks, so the
// queue survives process restarts without losing a campaign's momentum.
type RefillTask struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`

	// Reason records what produced the task: "start", "call_ended",
	// "capacity_freed" or "window_closed".
	Reason string `json:"reason,omitempty"`

	// NotBefore delays execution, e.g. until the calling window reopens.
	// Deferred tasks park in a sorted set and never hold up ready tasks.
	NotBefore time.Time `json:"not_before,omitempty"`

	// Attempts counts worker retries after transient wave failures.
	Attempts int `json:"attempts,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

const (
	refillQueueKey   = "campaign:refill"
	refillDelayedKey = "campaign:refill:delayed"
)

// RefillQueue is a durable Redis-backed work queue for wave refills. Ready
// tasks live in a list; tasks with a future NotBefore wait in a sorted set
// scored by their ready time and are promoted to the list as they come due.
type RefillQueue struct {
	rdb *redis.Client
}

func NewRefillQueue(rdb *redis.Client) *RefillQueue {
	return &RefillQueue{rdb: rdb}
}

func (q *RefillQueue) Enqueue(ctx context.Context, task RefillTask) error {
	if task.WorkspaceID == "" || task.CampaignID == "" {
		return errors.New("refill task requires workspace and campaign ids")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if task.NotBefore.After(time.Now()) {
		return q.rdb.ZAdd(ctx, refillDelayedKey, redis.Z{
			Score:  float64(task.NotBefore.Unix()),
			Member: payload,
		}).Err()
	}
	return q.rdb.LPush(ctx, refillQueueKey, payload).Err()
}

// Dequeue blocks up to timeout for the next ready task. A zero-value task
// with ok=false means the timeout elapsed. Deferred tasks surface here only
// once due, so the poll timeout also bounds their promotion latency.
func (q *RefillQueue) Dequeue(ctx context.Context, timeout time.Duration) (RefillTask, bool, error) {
	if err := q.promoteDue(ctx, time.Now()); err != nil {
		return RefillTask{}, false, err
	}
	res, err := q.rdb.BRPop(ctx, timeout, refillQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RefillTask{}, false, nil
		}
		return RefillTask{}, false, err
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return RefillTask{}, false, nil
	}

	var task RefillTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return RefillTask{}, false, err
	}
	return task, true, nil
}

// promoteDue moves tasks whose ready time has passed into the ready list.
// ZRem arbitrates between concurrent workers: only the caller that actually
// removed the member pushes it, so a task is promoted once.
func (q *RefillQueue) promoteDue(ctx context.Context, now time.Time) error {
	due, err := q.rdb.ZRangeByScore(ctx, refillDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		n, err := q.rdb.ZRem(ctx, refillDelayedKey, member).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, refillQueueKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RefillQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, refillQueueKey).Result()
}
