package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

// RedisQ is the broker: one ready list and one delay ZSET per named
// queue. The delay set is scored by run-at epoch seconds; the
// scheduler moves due members onto the ready list.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

func (q *RedisQ) Enqueue(ctx context.Context, queue string, jobID string) error {
	return q.rdb.LPush(ctx, "queue:"+queue, jobID).Err()
}

// EnqueueDelayed schedules jobID to become visible on queue at runAt.
// Used for retry backoff; a runAt in the past degrades to an immediate
// enqueue.
func (q *RedisQ) EnqueueDelayed(ctx context.Context, queue string, jobID string, runAt time.Time) error {
	if time.Until(runAt) > 0 {
		return q.rdb.ZAdd(ctx, "delay:"+queue, r.Z{Score: float64(runAt.Unix()), Member: jobID}).Err()
	}
	return q.rdb.LPush(ctx, "queue:"+queue, jobID).Err()
}

// Dequeue blocks up to block for one job id. One id per call: a worker
// reserves exactly one unit of work before asking for the next.
func (q *RedisQ) Dequeue(ctx context.Context, queues []string, block time.Duration) (string, error) {
	keys := make([]string, len(queues))
	for i, name := range queues {
		keys[i] = "queue:" + name
	}
	res, err := q.rdb.BRPop(ctx, block, keys...).Result()
	if err != nil {
		return "", err
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

func (q *RedisQ) MoveDue(ctx context.Context, queue string, now int64, batch int64) error {
	// fetch due IDs
	ids, err := q.rdb.ZRangeByScore(ctx, "delay:"+queue, &r.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, "queue:"+queue, id)
		pipe.ZRem(ctx, "delay:"+queue, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
