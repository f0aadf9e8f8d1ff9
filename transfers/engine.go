package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vsnbridge/blockchains"
	"vsnbridge/config"
	"vsnbridge/metrics"
	"vsnbridge/queue"
	"vsnbridge/types"

	"github.com/sirupsen/logrus"
)

// Engine drives a transfer from acceptance to a terminal status. Every
// decision is taken from the stored record, so a task can be run again
// after a restart.
type Engine struct {
	cfg      config.EngineConfig
	store    Store
	registry *blockchains.Registry
	metrics  *metrics.Metrics
	logger   *logrus.Entry
	now      func() time.Time
}

func NewEngine(cfg config.EngineConfig, store Store, registry *blockchains.Registry, logger *logrus.Entry) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		registry: registry,
		metrics:  metrics.Default(),
		logger:   logger,
		now:      time.Now,
	}
}

// Handle runs one transfer or transaction task and returns the follow-up
// task, if any.
func (e *Engine) Handle(ctx context.Context, task *queue.Task) (*queue.Task, error) {
	switch task.Kind {
	case queue.KindSubmitTransfer, queue.KindConfirmTransfer, queue.KindResubmitTransaction:
	default:
		return nil, fmt.Errorf("%w: %s on %s", queue.ErrUnknownTask, task.Kind, task.Queue)
	}

	logger := e.logger.WithField("internal_transaction_id", task.InternalTransactionID.String())
	rec, err := e.store.FindTransfer(ctx, task.InternalTransactionID)
	if errors.Is(err, types.ErrTransferNotFound) {
		logger.Warnf("Dropping %s task of unknown transfer", task.Kind)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, nil
	}
	client, ok := e.registry.Client(rec.SourceBlockchain)
	if !ok {
		return nil, fmt.Errorf("no client for %s", rec.SourceBlockchain)
	}
	logger = logger.WithField("blockchain", rec.SourceBlockchain.Key())

	if task.Kind == queue.KindResubmitTransaction {
		return e.resubmit(ctx, task, rec, client, logger)
	}
	switch rec.Status {
	case types.StatusAccepted:
		return e.submit(ctx, task, rec, client, logger)
	case types.StatusSourceTransactionSubmitted:
		return e.confirm(ctx, task, rec, client, logger)
	}
	return nil, nil
}

// retryDelay is the block time doubled per failure, capped by MaxRetryDelay.
func (e *Engine) retryDelay(blockTime time.Duration, failures int) time.Duration {
	delay := blockTime
	for i := 0; i < failures; i++ {
		delay *= 2
		if e.cfg.MaxRetryDelay > 0 && delay >= e.cfg.MaxRetryDelay {
			return e.cfg.MaxRetryDelay
		}
	}
	return delay
}

func blockTime(client blockchains.BlockchainClient) time.Duration {
	if d := client.Config().BlockTime(); d > 0 {
		return d
	}
	return time.Second
}

func (e *Engine) overdue(rec *types.TransferRecord, now time.Time) bool {
	return e.cfg.MaxPendingDuration > 0 && now.Sub(rec.CreatedAt) > e.cfg.MaxPendingDuration
}

// advance writes upd. A transition that is no longer allowed means another
// attempt got there first, which ends this task chain.
func (e *Engine) advance(ctx context.Context, rec *types.TransferRecord, upd types.TransferUpdate, logger *logrus.Entry) (bool, error) {
	_, err := e.store.UpdateTransfer(ctx, rec.ID, upd)
	if errors.Is(err, types.ErrStatusRegression) {
		logger.Infof("Transfer already moved on, not writing %s: %s", upd.Status, err.Error())
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if upd.Status != rec.Status {
		e.metrics.StatusTransition(rec.SourceBlockchain.Key(), string(upd.Status))
		logger.Infof("Transfer status %s -> %s", rec.Status, upd.Status)
	}
	return true, nil
}

func (e *Engine) submit(ctx context.Context, task *queue.Task, rec *types.TransferRecord, client blockchains.BlockchainClient, logger *logrus.Entry) (*queue.Task, error) {
	now := e.now().UTC()
	txID, err := client.StartTransferSubmission(ctx, blockchains.NewTransferSubmissionRequest(rec))
	if err != nil {
		attempts := task.Attempt + 1
		logger.Warnf("Submission attempt %d failed: %s", attempts, err.Error())
		if attempts >= e.cfg.MaxSubmissionAttempts {
			// only give up if nothing can have reached the chain
			subs, lerr := e.store.Submissions(ctx, rec.ID)
			if lerr == nil && len(subs) == 0 {
				_, err := e.advance(ctx, rec, types.TransferUpdate{Status: types.StatusFailed}, logger)
				return nil, err
			}
		}
		return task.Next(queue.Transfers, queue.KindSubmitTransfer, now.Add(e.retryDelay(blockTime(client), attempts))), nil
	}

	ok, err := e.advance(ctx, rec, types.TransferUpdate{
		Status:        types.StatusSourceTransactionSubmitted,
		TransactionID: &txID,
		SubmittedAt:   &now,
	}, logger)
	if err != nil || !ok {
		return nil, err
	}
	return task.Next(queue.Transfers, queue.KindConfirmTransfer, now.Add(blockTime(client))), nil
}

func (e *Engine) confirm(ctx context.Context, task *queue.Task, rec *types.TransferRecord, client blockchains.BlockchainClient, logger *logrus.Entry) (*queue.Task, error) {
	now := e.now().UTC()
	res, err := client.GetTransferSubmissionStatus(ctx, rec.ID, rec.DestinationBlockchain)
	if err != nil {
		failures := task.Failures + 1
		logger.Warnf("Submission status unresolvable (%d/%d): %s", failures, e.cfg.MaxUnresolvableAttempts, err.Error())
		if failures > e.cfg.MaxUnresolvableAttempts || e.overdue(rec, now) {
			_, err := e.advance(ctx, rec, types.TransferUpdate{Status: types.StatusUnresolvable}, logger)
			return nil, err
		}
		next := task.Next(queue.Transfers, queue.KindConfirmTransfer, now.Add(e.retryDelay(blockTime(client), failures)))
		next.Failures = failures
		return next, nil
	}

	if !res.Completed && res.Included {
		// mined, only the confirmation depth is missing
		next := task.Next(queue.Transfers, queue.KindConfirmTransfer, now.Add(blockTime(client)))
		next.Failures = 0
		return next, nil
	}
	if !res.Completed {
		if e.overdue(rec, now) {
			_, err := e.advance(ctx, rec, types.TransferUpdate{Status: types.StatusUnresolvable}, logger)
			return nil, err
		}
		submittedAt := rec.UpdatedAt
		if rec.SubmittedAt != nil {
			submittedAt = *rec.SubmittedAt
		}
		if now.Sub(submittedAt) >= client.Config().ConfirmationDeadline() {
			logger.Infof("Transaction %s not confirmed since %s, resubmitting", rec.TransactionID, submittedAt.Format(time.RFC3339))
			return task.Next(queue.Transactions, queue.KindResubmitTransaction, now), nil
		}
		next := task.Next(queue.Transfers, queue.KindConfirmTransfer, now.Add(blockTime(client)))
		next.Failures = 0
		return next, nil
	}

	upd := types.TransferUpdate{TransactionID: &res.TransactionID}
	switch res.Status {
	case types.TransactionStatusConfirmed:
		upd.Status = types.StatusSourceTransactionConfirmed
		upd.OnChainTransferID = res.OnChainTransferID
	case types.TransactionStatusReverted:
		upd.Status = types.StatusSourceTransactionReverted
	default:
		return nil, fmt.Errorf("unexpected transaction status %q", res.Status)
	}
	_, err = e.advance(ctx, rec, upd, logger)
	return nil, err
}

func (e *Engine) resubmit(ctx context.Context, task *queue.Task, rec *types.TransferRecord, client blockchains.BlockchainClient, logger *logrus.Entry) (*queue.Task, error) {
	now := e.now().UTC()
	if rec.Status != types.StatusSourceTransactionSubmitted {
		return nil, nil
	}

	// the previous check may be stale if this task waited in the queue
	res, err := client.GetTransferSubmissionStatus(ctx, rec.ID, rec.DestinationBlockchain)
	if err != nil || res.Completed || res.Included {
		return task.Next(queue.Transfers, queue.KindConfirmTransfer, now), nil
	}

	txID, err := client.ResubmitTransfer(ctx, rec.ID)
	if err != nil {
		attempts := task.Attempt + 1
		logger.Warnf("Resubmission attempt %d failed: %s", attempts, err.Error())
		if attempts >= e.cfg.MaxSubmissionAttempts {
			// keep polling the transactions already sent
			return task.Next(queue.Transfers, queue.KindConfirmTransfer, now.Add(blockTime(client))), nil
		}
		return task.Next(queue.Transactions, queue.KindResubmitTransaction, now.Add(e.retryDelay(blockTime(client), attempts))), nil
	}

	ok, err := e.advance(ctx, rec, types.TransferUpdate{
		Status:        types.StatusSourceTransactionSubmitted,
		TransactionID: &txID,
		SubmittedAt:   &now,
	}, logger)
	if err != nil || !ok {
		return nil, err
	}
	return task.Next(queue.Transfers, queue.KindConfirmTransfer, now.Add(blockTime(client))), nil
}
