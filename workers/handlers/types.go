package handlers

import (
	"math/big"

	"vsnbridge/types"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type LiveResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Blockchains   []string `json:"blockchains"`
}

type BidRequest struct {
	ExecutionTime uint64   `json:"execution_time"`
	ValidUntil    int64    `json:"valid_until"`
	Fee           *big.Int `json:"fee"`
	Signature     string   `json:"signature"`
}

type TransferRequest struct {
	SourceBlockchainID      int         `json:"source_blockchain_id"`
	DestinationBlockchainID int         `json:"destination_blockchain_id"`
	SenderAddress           string      `json:"sender_address"`
	RecipientAddress        string      `json:"recipient_address"`
	SourceTokenAddress      string      `json:"source_token_address"`
	DestinationTokenAddress string      `json:"destination_token_address"`
	Amount                  *big.Int    `json:"amount"`
	Nonce                   uint64      `json:"nonce"`
	ValidUntil              int64       `json:"valid_until"`
	Signature               string      `json:"signature"`
	Bid                     *BidRequest `json:"bid"`
}

type TransferResponse struct {
	TaskID string `json:"task_id"`
}

type TransferStatusResponse struct {
	TaskID                  string             `json:"task_id"`
	SourceBlockchainID      int                `json:"source_blockchain_id"`
	DestinationBlockchainID int                `json:"destination_blockchain_id"`
	SenderAddress           string             `json:"sender_address"`
	RecipientAddress        string             `json:"recipient_address"`
	SourceTokenAddress      string             `json:"source_token_address"`
	DestinationTokenAddress string             `json:"destination_token_address"`
	Amount                  *big.Int           `json:"amount"`
	Fee                     *big.Int           `json:"fee"`
	Status                  types.PublicStatus `json:"status"`
	TransferID              *uint64            `json:"transfer_id"`
	TransactionID           string             `json:"transaction_id"`
}
