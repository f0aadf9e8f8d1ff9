package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"vsnbridge/metrics"
	"vsnbridge/queue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler runs one task and returns the task to schedule next, if any.
type Handler interface {
	Handle(ctx context.Context, task *queue.Task) (*queue.Task, error)
}

type consumer struct {
	queue   string
	handler Handler
	workers int
}

// Pool consumes the task queues. Within one process a transfer is handled
// by at most one worker at a time.
type Pool struct {
	queue        queue.Queue
	pollInterval time.Duration
	retryDelay   time.Duration
	consumers    []consumer
	metrics      *metrics.Metrics
	logger       *logrus.Entry

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewPool(q queue.Queue, pollInterval time.Duration, logger *logrus.Entry) *Pool {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		queue:        q,
		pollInterval: pollInterval,
		retryDelay:   10 * pollInterval,
		metrics:      metrics.Default(),
		logger:       logger,
		inFlight:     make(map[uuid.UUID]struct{}),
	}
}

// Register starts n workers on the named queue when Run is called.
func (p *Pool) Register(name string, h Handler, n int) {
	if n <= 0 {
		n = 1
	}
	p.consumers = append(p.consumers, consumer{queue: name, handler: h, workers: n})
}

// Run blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range p.consumers {
		c := c
		for i := 0; i < c.workers; i++ {
			g.Go(func() error {
				p.work(ctx, c.queue, c.handler)
				return nil
			})
		}
		p.logger.Infof("Started %d workers on queue %s", c.workers, c.queue)
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, name string, h Handler) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		// drain what is due before waiting again
		for p.Process(ctx, name, h) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) claim(id uuid.UUID) bool {
	if id == uuid.Nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) release(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
}

// Process runs at most one due task of the named queue and reports whether
// one was taken.
func (p *Pool) Process(ctx context.Context, name string, h Handler) bool {
	task, err := p.queue.Dequeue(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Errorf("Cannot dequeue from %s: %s", name, err.Error())
		}
		return false
	}
	if task == nil {
		return false
	}
	logger := p.logger.WithFields(logrus.Fields{"queue": name, "kind": task.Kind, "task_id": task.ID.String()})
	if task.InternalTransactionID != uuid.Nil {
		logger = logger.WithField("internal_transaction_id", task.InternalTransactionID.String())
	}

	if !p.claim(task.InternalTransactionID) {
		deferred := p.again(task, p.pollInterval)
		p.finish(ctx, task, deferred, "deferred", 0, logger)
		return true
	}
	defer p.release(task.InternalTransactionID)

	start := time.Now()
	next, err := h.Handle(ctx, task)
	result := "ok"
	switch {
	case errors.Is(err, queue.ErrUnknownTask):
		logger.Errorf("Dropping task: %s", err.Error())
		result = "dropped"
		next = nil
	case err != nil:
		logger.Warnf("Task failed, retrying in %s: %s", p.retryDelay, err.Error())
		result = "retry"
		next = p.again(task, p.retryDelay)
	}
	p.finish(ctx, task, next, result, time.Since(start).Seconds(), logger)
	return true
}

// again schedules task to run once more without counting an attempt.
func (p *Pool) again(task *queue.Task, delay time.Duration) *queue.Task {
	next := task.Next(task.Queue, task.Kind, time.Now().Add(delay))
	next.Attempt = task.Attempt
	next.Failures = task.Failures
	return next
}

func (p *Pool) finish(ctx context.Context, task, next *queue.Task, result string, seconds float64, logger *logrus.Entry) {
	if next != nil {
		if err := p.queue.Enqueue(ctx, next); err != nil {
			// left unacknowledged so that recovery hands it out again
			logger.Errorf("Cannot enqueue follow-up %s task: %s", next.Kind, err.Error())
			p.metrics.TaskProcessed(task.Queue, task.Kind, "error", seconds)
			return
		}
	}
	if err := p.queue.Ack(ctx, task); err != nil {
		logger.Errorf("Cannot acknowledge task: %s", err.Error())
	}
	p.metrics.TaskProcessed(task.Queue, task.Kind, result, seconds)
}
