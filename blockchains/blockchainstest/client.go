// Package blockchainstest provides a scripted BlockchainClient for tests.
package blockchainstest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"vsnbridge/blockchains"
	"vsnbridge/config"
	"vsnbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Client records calls and answers them from its function fields. A nil
// function gives a plausible default.
type Client struct {
	Chain   types.Blockchain
	Cfg     config.BlockchainConfig
	Address string

	StartFunc    func(ctx context.Context, req blockchains.TransferSubmissionRequest) (string, error)
	ResubmitFunc func(ctx context.Context, id uuid.UUID) (string, error)
	StatusFunc   func(ctx context.Context, id uuid.UUID, destination types.Blockchain) (*types.TransactionSubmissionStatusResponse, error)
	SignErr      error
	Health       types.NodeHealth

	mu            sync.Mutex
	startCalls    int
	resubmitCalls int
	statusCalls   int
	submitted     map[uuid.UUID]string
}

var _ blockchains.BlockchainClient = (*Client)(nil)

func New(chain types.Blockchain) *Client {
	return &Client{
		Chain:   chain,
		Cfg:     config.BlockchainConfig{Active: true, Registered: true, AverageBlockTime: 2, Confirmations: 3},
		Address: "0x7De6Ce2Ce98B446CdD2730d2D49B0e1FEe2Ff85C",
	}
}

// Unresolvable builds the error the client returns for an undeterminable
// submission status.
func Unresolvable(chain types.Blockchain) error {
	return &blockchains.UnresolvableTransferSubmissionError{
		BlockchainClientError: &blockchains.BlockchainClientError{
			Blockchain: chain,
			Op:         "GetTransferSubmissionStatus",
			Message:    "unable to get the transfer submission status",
			Err:        errors.New("connection refused"),
		},
	}
}

func (c *Client) Blockchain() types.Blockchain    { return c.Chain }
func (c *Client) Config() config.BlockchainConfig { return c.Cfg }
func (c *Client) GetOwnAddress() string           { return c.Address }

func (c *Client) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (c *Client) IsValidRecipientAddress(address string) bool {
	return c.IsValidAddress(address) && common.HexToAddress(address) != (common.Address{})
}

func (c *Client) ReadOwnVSNBalance(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *Client) StartTransferSubmission(ctx context.Context, req blockchains.TransferSubmissionRequest) (string, error) {
	c.mu.Lock()
	c.startCalls++
	if c.submitted == nil {
		c.submitted = make(map[uuid.UUID]string)
	}
	txID, done := c.submitted[req.InternalTransactionID]
	c.mu.Unlock()

	if c.StartFunc != nil {
		return c.StartFunc(ctx, req)
	}
	if done {
		return txID, nil
	}
	txID = fmt.Sprintf("0x%064x", req.Nonce+1)
	c.mu.Lock()
	c.submitted[req.InternalTransactionID] = txID
	c.mu.Unlock()
	return txID, nil
}

func (c *Client) ResubmitTransfer(ctx context.Context, id uuid.UUID) (string, error) {
	c.mu.Lock()
	c.resubmitCalls++
	n := c.resubmitCalls
	c.mu.Unlock()

	if c.ResubmitFunc != nil {
		return c.ResubmitFunc(ctx, id)
	}
	return fmt.Sprintf("0x%064x", 1000+n), nil
}

func (c *Client) GetTransferSubmissionStatus(ctx context.Context, id uuid.UUID, destination types.Blockchain) (*types.TransactionSubmissionStatusResponse, error) {
	c.mu.Lock()
	c.statusCalls++
	c.mu.Unlock()

	if c.StatusFunc != nil {
		return c.StatusFunc(ctx, id, destination)
	}
	return types.NotCompleted(), nil
}

func (c *Client) SignBid(bid types.ServiceNodeBid) (string, error) {
	if c.SignErr != nil {
		return "", c.SignErr
	}
	return fmt.Sprintf("0xsig-%d-%d-%s-%d", bid.SourceBlockchain, bid.DestinationBlockchain, bid.Fee, bid.ValidUntil), nil
}

func (c *Client) GetNodeHealth(context.Context) types.NodeHealth {
	health := c.Health
	if health.Blockchain == "" {
		health.Blockchain = c.Chain.Name()
	}
	if health.UnhealthyEndpoints == nil {
		health.UnhealthyEndpoints = []string{}
	}
	return health
}

func (c *Client) Close() {}

func (c *Client) StartCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCalls
}

func (c *Client) ResubmitCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resubmitCalls
}

func (c *Client) StatusCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls
}
