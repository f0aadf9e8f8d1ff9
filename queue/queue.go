package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue names.
const (
	Transfers    = "transfers"
	Bids         = "bids"
	Transactions = "transactions"
)

// Task kinds.
const (
	KindSubmitTransfer      = "submit_transfer"
	KindConfirmTransfer     = "confirm_transfer"
	KindResubmitTransaction = "resubmit_transaction"
	KindRefreshBids         = "refresh_bids"
)

var ErrUnknownTask = errors.New("unknown task")

// DefaultLease is how long a dequeued task is reserved for its consumer
// unless the queue is configured otherwise.
const DefaultLease = 5 * time.Minute

// Task is one unit of deferred work. Delays are carried as data in NotBefore.
type Task struct {
	ID                    uuid.UUID `json:"id"`
	Kind                  string    `json:"kind"`
	Queue                 string    `json:"queue"`
	InternalTransactionID uuid.UUID `json:"internal_transaction_id,omitempty"`
	// Attempt counts executions of the current kind, Failures the
	// consecutive unresolvable status polls.
	Attempt    int       `json:"attempt"`
	Failures   int       `json:"failures"`
	NotBefore  time.Time `json:"not_before"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask creates a task due at notBefore.
func NewTask(queue, kind string, internalTransactionID uuid.UUID, notBefore time.Time) *Task {
	return &Task{
		ID:                    uuid.New(),
		Kind:                  kind,
		Queue:                 queue,
		InternalTransactionID: internalTransactionID,
		NotBefore:             notBefore.UTC(),
		EnqueuedAt:            time.Now().UTC(),
	}
}

// Next derives the follow-up task of t. The attempt counter restarts when
// the kind changes.
func (t *Task) Next(queue, kind string, notBefore time.Time) *Task {
	next := NewTask(queue, kind, t.InternalTransactionID, notBefore)
	if kind == t.Kind {
		next.Attempt = t.Attempt + 1
		next.Failures = t.Failures
	}
	return next
}

// Queue is an at-least-once delayed task queue. A dequeued task stays
// claimed until it is acknowledged; once its lease has run out Recover hands
// it out again.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	// Dequeue claims the next due task of queue. It returns nil, nil when no
	// task is due.
	Dequeue(ctx context.Context, queue string) (*Task, error)
	Ack(ctx context.Context, task *Task) error
	// DiscardBefore drops every pending task of queue enqueued before t and
	// returns how many were dropped.
	DiscardBefore(ctx context.Context, queue string, t time.Time) (int, error)
	// Recover re-queues the claimed tasks whose lease expired without an
	// acknowledgement. Claims still within their lease are left alone, as
	// another process may be working on them.
	Recover(ctx context.Context, queue string) (int, error)
}
