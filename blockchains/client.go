package blockchains

import (
	"context"
	"math/big"

	"vsnbridge/EVMRPC"
	"vsnbridge/config"
	"vsnbridge/types"

	"github.com/google/uuid"
)

// BlockchainClient gives the service node access to one blockchain.
// Every returned error is a *BlockchainClientError (or wraps one).
type BlockchainClient interface {
	Blockchain() types.Blockchain
	Config() config.BlockchainConfig

	// GetOwnAddress is the address of the service node on this chain.
	GetOwnAddress() string
	IsValidAddress(address string) bool
	// IsValidRecipientAddress is IsValidAddress without the zero address.
	IsValidRecipientAddress(address string) bool

	ReadOwnVSNBalance(ctx context.Context) (*big.Int, error)

	// StartTransferSubmission signs and broadcasts the hub transaction of a
	// transfer. Calling it again for the same internal id returns the
	// transaction that was already submitted.
	StartTransferSubmission(ctx context.Context, req TransferSubmissionRequest) (string, error)
	// ResubmitTransfer replaces the latest submission with one that uses the
	// same account nonce and a higher fee.
	ResubmitTransfer(ctx context.Context, internalTransactionID uuid.UUID) (string, error)
	// GetTransferSubmissionStatus fails with
	// *UnresolvableTransferSubmissionError whenever the status cannot be
	// determined.
	GetTransferSubmissionStatus(ctx context.Context, internalTransactionID uuid.UUID, destination types.Blockchain) (*types.TransactionSubmissionStatusResponse, error)

	SignBid(bid types.ServiceNodeBid) (string, error)
	GetNodeHealth(ctx context.Context) types.NodeHealth

	Close()
}

// TransferSubmissionRequest is what a client needs to submit a transfer.
type TransferSubmissionRequest struct {
	InternalTransactionID   uuid.UUID
	DestinationBlockchain   types.Blockchain
	SenderAddress           string
	RecipientAddress        string
	SourceTokenAddress      string
	DestinationTokenAddress string
	Amount                  *big.Int
	Fee                     *big.Int
	Nonce                   uint64
	ValidUntil              int64
	Signature               string
}

// NewTransferSubmissionRequest builds the request from a stored transfer.
func NewTransferSubmissionRequest(rec *types.TransferRecord) TransferSubmissionRequest {
	return TransferSubmissionRequest{
		InternalTransactionID:   rec.ID,
		DestinationBlockchain:   rec.DestinationBlockchain,
		SenderAddress:           rec.SenderAddress,
		RecipientAddress:        rec.RecipientAddress,
		SourceTokenAddress:      rec.SourceTokenAddress,
		DestinationTokenAddress: rec.DestinationTokenAddress,
		Amount:                  rec.Amount,
		Fee:                     rec.Bid.Fee,
		Nonce:                   rec.Nonce,
		ValidUntil:              rec.ValidUntil,
		Signature:               rec.Signature,
	}
}

// SubmissionLedger records every signed chain transaction of a transfer.
// Submissions are returned oldest first.
type SubmissionLedger interface {
	AddSubmission(ctx context.Context, sub types.TransactionSubmission) error
	Submissions(ctx context.Context, internalTransactionID uuid.UUID) ([]types.TransactionSubmission, error)
}

// Utilities is the chain access used by the clients. *EVMRPC.Utilities
// implements it.
type Utilities interface {
	OwnAddress() string
	BuildTransferTransaction(ctx context.Context, req EVMRPC.TransferRequest) (types.TransactionSubmission, error)
	BuildReplacementTransaction(ctx context.Context, previous types.TransactionSubmission) (types.TransactionSubmission, error)
	ReleaseNonce(nonce uint64)
	NonceUsed(ctx context.Context, nonce uint64) (bool, error)
	SendTransaction(ctx context.Context, sub types.TransactionSubmission) error
	GetTransactionSubmissionStatus(ctx context.Context, txHashes []string) (EVMRPC.SubmissionStatus, error)
	ReadTransferID(ctx context.Context, txHash string, crossChain bool) (uint64, error)
	GetBalance(ctx context.Context, token, owner string) (*big.Int, error)
	SignMessage(msg []byte) (string, error)
	ProbeProviders() (healthy, unhealthy []string)
	Close()
}

var _ Utilities = (*EVMRPC.Utilities)(nil)
