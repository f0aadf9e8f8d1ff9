package handlers

import (
	"context"
	"time"

	"vsnbridge/blockchains"
	"vsnbridge/transfers"
	"vsnbridge/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Transfers interface {
	InitiateTransfer(ctx context.Context, req transfers.InitiateTransferRequest) (uuid.UUID, error)
	FindTransfer(ctx context.Context, id uuid.UUID) (*types.TransferRecord, error)
}

type Bids interface {
	CurrentBids(source, destination types.Blockchain) []types.ServiceNodeBid
}

// Handlers serves the REST API of the service node.
type Handlers struct {
	transfers Transfers
	bids      Bids
	registry  *blockchains.Registry
	logger    *logrus.Entry
	started   time.Time
}

func New(t Transfers, b Bids, registry *blockchains.Registry, logger *logrus.Entry) *Handlers {
	return &Handlers{
		transfers: t,
		bids:      b,
		registry:  registry,
		logger:    logger,
		started:   time.Now(),
	}
}
