package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vsnbridge/queue"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
)

// Queue is a queue.Queue on Redis. Per queue name it keeps
//
//	queue:<name>:due         ZSET task id scored by NotBefore
//	queue:<name>:enqueued    ZSET task id scored by EnqueuedAt
//	queue:<name>:tasks       HASH task id to task JSON
//	queue:<name>:processing  ZSET claimed ids scored by lease deadline
type Queue struct {
	pool   *redis.Pool
	logger *logrus.Entry
	lease  time.Duration
}

var _ queue.Queue = (*Queue)(nil)

func NewQueue(pool *redis.Pool, logger *logrus.Entry) *Queue {
	return &Queue{pool: pool, logger: logger, lease: queue.DefaultLease}
}

// WithLease sets how long a dequeued task is reserved for its consumer.
func (q *Queue) WithLease(lease time.Duration) *Queue {
	q.lease = lease
	return q
}

func queueKeys(name string) []interface{} {
	return []interface{}{
		fmt.Sprintf("queue:%s:due", name),
		fmt.Sprintf("queue:%s:enqueued", name),
		fmt.Sprintf("queue:%s:tasks", name),
		fmt.Sprintf("queue:%s:processing", name),
	}
}

var enqueueScript = redis.NewScript(4, `
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// hands the earliest due task to exactly one consumer
var claimScript = redis.NewScript(4, `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZREM', KEYS[2], ids[1])
redis.call('ZADD', KEYS[4], ARGV[2], ids[1])
return redis.call('HGET', KEYS[3], ids[1])
`)

// a task recovered after its lease ran out keeps its body
var ackScript = redis.NewScript(4, `
redis.call('ZREM', KEYS[4], ARGV[1])
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)

// re-queues claims whose lease deadline has passed
var recoverScript = redis.NewScript(4, `
local ids = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', ARGV[1])
local recovered = 0
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[4], id)
  local task = redis.call('HGET', KEYS[3], id)
  if task then
    redis.call('ZADD', KEYS[1], ARGV[1], id)
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    recovered = recovered + 1
  end
end
return recovered
`)

var discardScript = redis.NewScript(4, `
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
  redis.call('HDEL', KEYS[3], id)
end
return #ids
`)

func millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func (q *Queue) Enqueue(ctx context.Context, task *queue.Task) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("cannot marshal task to JSON: %s", err.Error())
	}

	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := append(queueKeys(task.Queue), task.ID.String(), taskJSON, millis(task.NotBefore), millis(task.EnqueuedAt))
	if _, err := enqueueScript.Do(conn, args...); err != nil {
		q.logger.Errorf("error Redis enqueue %s: %s", task.Queue, err.Error())
		return err
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, name string) (*queue.Task, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	now := time.Now()
	args := append(queueKeys(name), millis(now), millis(now.Add(q.lease)))
	taskJSON, err := redis.Bytes(claimScript.Do(conn, args...))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		q.logger.Errorf("error Redis dequeue %s: %s", name, err.Error())
		return nil, err
	}

	var task queue.Task
	if err := json.Unmarshal(taskJSON, &task); err != nil {
		return nil, fmt.Errorf("cannot unmarshal task of %s: %w", name, err)
	}
	return &task, nil
}

func (q *Queue) Ack(ctx context.Context, task *queue.Task) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := append(queueKeys(task.Queue), task.ID.String())
	_, err = ackScript.Do(conn, args...)
	return err
}

func (q *Queue) DiscardBefore(ctx context.Context, name string, t time.Time) (int, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	args := append(queueKeys(name), millis(t))
	return redis.Int(discardScript.Do(conn, args...))
}

func (q *Queue) Recover(ctx context.Context, name string) (int, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	args := append(queueKeys(name), millis(time.Now()))
	recovered, err := redis.Int(recoverScript.Do(conn, args...))
	if err != nil {
		q.logger.Errorf("error Redis recover %s: %s", name, err.Error())
		return 0, err
	}
	return recovered, nil
}
