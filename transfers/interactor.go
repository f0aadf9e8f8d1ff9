package transfers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"vsnbridge/bids"
	"vsnbridge/blockchains"
	"vsnbridge/metrics"
	"vsnbridge/queue"
	"vsnbridge/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store persists transfer records and the chain transactions submitted for
// them.
type Store interface {
	// CreateTransfer fails with types.ErrSenderNonceNotUnique if a transfer
	// that has not failed holds the same sender nonce.
	CreateTransfer(ctx context.Context, rec *types.TransferRecord) error
	FindTransfer(ctx context.Context, id uuid.UUID) (*types.TransferRecord, error)
	// UpdateTransfer fails with types.ErrStatusRegression if the record
	// cannot move to upd.Status.
	UpdateTransfer(ctx context.Context, id uuid.UUID, upd types.TransferUpdate) (*types.TransferRecord, error)
	IsSenderNonceActive(ctx context.Context, blockchain types.Blockchain, sender string, nonce uint64) (bool, error)
	blockchains.SubmissionLedger
}

// InitiateTransferRequest is a signed transfer request bound to a bid.
type InitiateTransferRequest struct {
	SourceBlockchain        types.Blockchain
	DestinationBlockchain   types.Blockchain
	SenderAddress           string
	RecipientAddress        string
	SourceTokenAddress      string
	DestinationTokenAddress string
	Amount                  *big.Int
	Nonce                   uint64
	ValidUntil              int64
	Signature               string
	Bid                     types.ServiceNodeBid
	TimeReceived            time.Time
}

// Interactor admits transfer requests and answers status lookups. It never
// talks to a blockchain.
type Interactor struct {
	store    Store
	queue    queue.Queue
	registry *blockchains.Registry
	policy   bids.Policy
	metrics  *metrics.Metrics
	logger   *logrus.Entry
	now      func() time.Time
}

func NewInteractor(store Store, q queue.Queue, registry *blockchains.Registry, policy bids.Policy, logger *logrus.Entry) *Interactor {
	return &Interactor{
		store:    store,
		queue:    q,
		registry: registry,
		policy:   policy,
		metrics:  metrics.Default(),
		logger:   logger,
		now:      time.Now,
	}
}

// InitiateTransfer validates the request, stores it as accepted and queues
// its submission. The checks run in order: amount, blockchains and
// addresses, sender nonce, bid.
func (i *Interactor) InitiateTransfer(ctx context.Context, req InitiateTransferRequest) (uuid.UUID, error) {
	id, err := i.initiateTransfer(ctx, req)
	i.metrics.TransferInitiated(req.SourceBlockchain.Key(), outcome(err))
	return id, err
}

func outcome(err error) string {
	var validationErr *ValidationError
	var nonceErr *SenderNonceNotUniqueError
	var bidErr *BidNotAcceptedError
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.As(err, &nonceErr):
		return "nonce_conflict"
	case errors.As(err, &bidErr):
		return "bid_rejected"
	}
	return "error"
}

func (i *Interactor) initiateTransfer(ctx context.Context, req InitiateTransferRequest) (uuid.UUID, error) {
	if err := i.validate(req); err != nil {
		i.logger.Warnf("new transfer request: %s", err.Error())
		return uuid.Nil, err
	}

	active, err := i.store.IsSenderNonceActive(ctx, req.SourceBlockchain, req.SenderAddress, req.Nonce)
	if err != nil {
		return uuid.Nil, fmt.Errorf("cannot check sender nonce: %w", err)
	}
	nonceErr := &SenderNonceNotUniqueError{SourceBlockchain: req.SourceBlockchain, SenderAddress: req.SenderAddress, Nonce: req.Nonce}
	if active {
		return uuid.Nil, nonceErr
	}

	if err := i.checkBid(req); err != nil {
		i.logger.Warnf("bid has been rejected by service node: %s", err.Error())
		return uuid.Nil, err
	}

	now := i.now().UTC()
	rec := &types.TransferRecord{
		ID:                      uuid.New(),
		SourceBlockchain:        req.SourceBlockchain,
		DestinationBlockchain:   req.DestinationBlockchain,
		SenderAddress:           req.SenderAddress,
		RecipientAddress:        req.RecipientAddress,
		SourceTokenAddress:      req.SourceTokenAddress,
		DestinationTokenAddress: req.DestinationTokenAddress,
		Amount:                  new(big.Int).Set(req.Amount),
		Nonce:                   req.Nonce,
		ValidUntil:              req.ValidUntil,
		Signature:               req.Signature,
		Bid:                     req.Bid,
		Status:                  types.StatusAccepted,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	// the store claims the nonce atomically; the check above only orders
	// the errors
	if err := i.store.CreateTransfer(ctx, rec); err != nil {
		if errors.Is(err, types.ErrSenderNonceNotUnique) {
			return uuid.Nil, nonceErr
		}
		return uuid.Nil, fmt.Errorf("cannot store transfer: %w", err)
	}

	logger := i.logger.WithField("internal_transaction_id", rec.ID.String())
	task := queue.NewTask(queue.Transfers, queue.KindSubmitTransfer, rec.ID, now)
	if err := i.queue.Enqueue(ctx, task); err != nil {
		if _, uerr := i.store.UpdateTransfer(ctx, rec.ID, types.TransferUpdate{Status: types.StatusFailed}); uerr != nil {
			logger.Errorf("Cannot mark unqueued transfer as failed: %s", uerr.Error())
		}
		return uuid.Nil, fmt.Errorf("cannot enqueue transfer %s: %w", rec.ID, err)
	}
	logger.Infof("Transfer accepted: %s -> %s, sender %s, nonce %d", rec.SourceBlockchain, rec.DestinationBlockchain, rec.SenderAddress, rec.Nonce)
	return rec.ID, nil
}

func (i *Interactor) validate(req InitiateTransferRequest) error {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be greater than 0"}
	}

	source, ok := i.registry.Client(req.SourceBlockchain)
	if !ok || !source.Config().Active || !source.Config().Registered {
		return &ValidationError{Field: "source_blockchain_id", Message: "this is not an active blockchain"}
	}
	destination, ok := i.registry.Client(req.DestinationBlockchain)
	if !ok {
		return &ValidationError{Field: "destination_blockchain_id", Message: "this is not a supported blockchain"}
	}

	if !source.IsValidAddress(req.SenderAddress) {
		return &ValidationError{Field: "sender_address", Message: "sender address must be a valid blockchain address on " + req.SourceBlockchain.Name()}
	}
	if !destination.IsValidRecipientAddress(req.RecipientAddress) {
		return &ValidationError{Field: "recipient_address", Message: "recipient address must be a valid blockchain address, different from the 0 address on " + req.DestinationBlockchain.Name()}
	}
	if !source.IsValidAddress(req.SourceTokenAddress) {
		return &ValidationError{Field: "source_token_address", Message: "source token address must be a valid blockchain address on " + req.SourceBlockchain.Name()}
	}
	if !destination.IsValidAddress(req.DestinationTokenAddress) {
		return &ValidationError{Field: "destination_token_address", Message: "destination token address must be a valid blockchain address on " + req.DestinationBlockchain.Name()}
	}
	return nil
}

func (i *Interactor) checkBid(req InitiateTransferRequest) error {
	received := req.TimeReceived
	if received.IsZero() {
		received = i.now()
	}
	bid := req.Bid
	if bid.SourceBlockchain != req.SourceBlockchain || bid.DestinationBlockchain != req.DestinationBlockchain {
		return &BidNotAcceptedError{Reason: "bid is for another route"}
	}
	if !bid.IsValidAt(received) {
		return &BidNotAcceptedError{Reason: "bid has expired"}
	}
	if !i.policy.Accepts(bid) {
		return &BidNotAcceptedError{Reason: "bid not accepted"}
	}
	return nil
}

// FindTransfer returns the stored state of a transfer.
func (i *Interactor) FindTransfer(ctx context.Context, id uuid.UUID) (*types.TransferRecord, error) {
	rec, err := i.store.FindTransfer(ctx, id)
	if errors.Is(err, types.ErrTransferNotFound) {
		return nil, &ResourceNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("cannot find transfer %s: %w", id, err)
	}
	return rec, nil
}
