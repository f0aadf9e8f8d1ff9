package blockchains

import (
	"fmt"

	"vsnbridge/types"
)

// BlockchainClientError is the single error kind returned by a
// BlockchainClient. The original failure is kept as the wrapped cause.
type BlockchainClientError struct {
	Blockchain types.Blockchain
	ChainID    int64
	Op         string
	Message    string
	Err        error
}

func (e *BlockchainClientError) Error() string {
	msg := fmt.Sprintf("%s client (chain id %d): %s: %s", e.Blockchain.Name(), e.ChainID, e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BlockchainClientError) Unwrap() error {
	return e.Err
}

// UnresolvableTransferSubmissionError means the submission status could not
// be determined on this attempt. It does not mean the transaction failed.
type UnresolvableTransferSubmissionError struct {
	*BlockchainClientError
}

func (e *UnresolvableTransferSubmissionError) Error() string {
	return "unresolvable transfer submission: " + e.BlockchainClientError.Error()
}

func (e *UnresolvableTransferSubmissionError) Unwrap() error {
	return e.BlockchainClientError
}
