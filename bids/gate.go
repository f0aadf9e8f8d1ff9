package bids

import (
	"context"
	"time"

	"vsnbridge/queue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Gate keeps bid work of earlier processes out of this one.
type Gate struct {
	queue  queue.Queue
	logger *logrus.Entry
}

func NewGate(q queue.Queue, logger *logrus.Entry) *Gate {
	return &Gate{queue: q, logger: logger}
}

// Open discards every bid task enqueued before processStart and schedules
// the first refresh of this process. It must run before any bids worker
// starts consuming.
func (g *Gate) Open(ctx context.Context, processStart time.Time) error {
	discarded, err := g.queue.DiscardBefore(ctx, queue.Bids, processStart)
	if err != nil {
		return err
	}
	if discarded > 0 {
		g.logger.Infof("Discarded %d stale bid tasks", discarded)
	}
	now := time.Now()
	if now.Before(processStart) {
		now = processStart
	}
	task := queue.NewTask(queue.Bids, queue.KindRefreshBids, uuid.Nil, now)
	task.EnqueuedAt = now.UTC()
	return g.queue.Enqueue(ctx, task)
}
