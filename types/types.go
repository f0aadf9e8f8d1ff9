package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Blockchain identifies a supported chain. Values are part of the public API
// (source_blockchain_id / destination_blockchain_id) and must not change.
type Blockchain uint8

const (
	Ethereum Blockchain = iota
	BnbChain
	BitcoinRsk
	Avalanche
	Solana
	Polygon
	Cronos
	Sonic
	Celo
)

var blockchainNames = map[Blockchain]string{
	Ethereum:   "ETHEREUM",
	BnbChain:   "BNB_CHAIN",
	BitcoinRsk: "BITCOIN_RSK",
	Avalanche:  "AVALANCHE",
	Solana:     "SOLANA",
	Polygon:    "POLYGON",
	Cronos:     "CRONOS",
	Sonic:      "SONIC",
	Celo:       "CELO",
}

// Blockchains lists every known chain in id order.
func Blockchains() []Blockchain {
	list := make([]Blockchain, 0, len(blockchainNames))
	for b := Ethereum; int(b) < len(blockchainNames); b++ {
		list = append(list, b)
	}
	return list
}

// ParseBlockchain converts a numeric id into a Blockchain.
func ParseBlockchain(id int) (Blockchain, error) {
	if id < 0 || id >= len(blockchainNames) {
		return 0, fmt.Errorf("unknown blockchain id %d", id)
	}
	return Blockchain(id), nil
}

func (b Blockchain) Name() string {
	if name, ok := blockchainNames[b]; ok {
		return name
	}
	return fmt.Sprintf("BLOCKCHAIN_%d", uint8(b))
}

// Key is the lower case name used as configuration key.
func (b Blockchain) Key() string {
	return strings.ToLower(b.Name())
}

func (b Blockchain) String() string {
	return b.Name()
}

// TransactionStatus is the terminal on-chain outcome of a transaction.
type TransactionStatus string

const (
	TransactionStatusConfirmed TransactionStatus = "CONFIRMED"
	TransactionStatusReverted  TransactionStatus = "REVERTED"
)

// TransactionSubmissionStatusResponse reports whether a previously submitted
// transaction reached a terminal state. Status, TransactionID and
// OnChainTransferID are only meaningful when Completed is true, and
// OnChainTransferID is only set for confirmed transactions. Included marks a
// transaction that is mined but still short of its confirmations.
type TransactionSubmissionStatusResponse struct {
	Completed         bool
	Included          bool
	Status            TransactionStatus
	TransactionID     string
	OnChainTransferID *uint64
}

func NotCompleted() *TransactionSubmissionStatusResponse {
	return &TransactionSubmissionStatusResponse{Completed: false}
}

// AwaitingConfirmations is the response for a mined transaction that is not
// final yet.
func AwaitingConfirmations() *TransactionSubmissionStatusResponse {
	return &TransactionSubmissionStatusResponse{Completed: false, Included: true}
}

func Completed(status TransactionStatus, transactionID string, onChainTransferID uint64) *TransactionSubmissionStatusResponse {
	res := &TransactionSubmissionStatusResponse{
		Completed:     true,
		Status:        status,
		TransactionID: transactionID,
	}
	if status == TransactionStatusConfirmed {
		id := onChainTransferID
		res.OnChainTransferID = &id
	}
	return res
}

// ServiceNodeBid is an offer of the service node to execute a transfer
// between two chains for a fee, within an execution time bound.
type ServiceNodeBid struct {
	SourceBlockchain      Blockchain `json:"source_blockchain_id"`
	DestinationBlockchain Blockchain `json:"destination_blockchain_id"`
	Fee                   *big.Int   `json:"fee"`
	ExecutionTime         uint64     `json:"execution_time"`
	ValidUntil            int64      `json:"valid_until"`
	Signature             string     `json:"signature"`
}

func (b ServiceNodeBid) IsValidAt(t time.Time) bool {
	return t.Unix() < b.ValidUntil
}

// TransferRecord is the persisted state of one transfer request.
type TransferRecord struct {
	ID                      uuid.UUID      `json:"id"`
	SourceBlockchain        Blockchain     `json:"source_blockchain"`
	DestinationBlockchain   Blockchain     `json:"destination_blockchain"`
	SenderAddress           string         `json:"sender_address"`
	RecipientAddress        string         `json:"recipient_address"`
	SourceTokenAddress      string         `json:"source_token_address"`
	DestinationTokenAddress string         `json:"destination_token_address"`
	Amount                  *big.Int       `json:"amount"`
	Nonce                   uint64         `json:"nonce"`
	ValidUntil              int64          `json:"valid_until"`
	Signature               string         `json:"signature"`
	Bid                     ServiceNodeBid `json:"bid"`
	Status                  TransferStatus `json:"status"`
	TransactionID           string         `json:"transaction_id,omitempty"`
	OnChainTransferID       *uint64        `json:"on_chain_transfer_id,omitempty"`
	SubmittedAt             *time.Time     `json:"submitted_at,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// TransferUpdate carries the fields the engine writes on a status change.
// Nil fields are left untouched.
type TransferUpdate struct {
	Status            TransferStatus
	TransactionID     *string
	OnChainTransferID *uint64
	SubmittedAt       *time.Time
}

// Apply writes the update onto the record without checking the transition.
func (u TransferUpdate) Apply(rec *TransferRecord, now time.Time) {
	rec.Status = u.Status
	if u.TransactionID != nil {
		rec.TransactionID = *u.TransactionID
	}
	if u.OnChainTransferID != nil {
		id := *u.OnChainTransferID
		rec.OnChainTransferID = &id
	}
	if u.SubmittedAt != nil {
		t := *u.SubmittedAt
		rec.SubmittedAt = &t
	}
	rec.UpdatedAt = now
}

// TransactionSubmission is one signed chain transaction sent on behalf of a
// transfer. Resubmissions append a new entry with the same account nonce.
type TransactionSubmission struct {
	InternalTransactionID uuid.UUID `json:"internal_transaction_id"`
	TransactionID         string    `json:"transaction_id"`
	RawTransaction        string    `json:"raw_transaction"`
	AccountNonce          uint64    `json:"account_nonce"`
	SubmittedAt           time.Time `json:"submitted_at"`
}

// NodeHealth summarises the provider endpoints of one chain.
type NodeHealth struct {
	Blockchain         string   `json:"blockchain"`
	HealthyTotal       int      `json:"healthy_total"`
	UnhealthyTotal     int      `json:"unhealthy_total"`
	UnhealthyEndpoints []string `json:"unhealthy_endpoints"`
}

var (
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrSenderNonceNotUnique = errors.New("sender nonce not unique")
	ErrStatusRegression     = errors.New("transfer status transition not allowed")
)
