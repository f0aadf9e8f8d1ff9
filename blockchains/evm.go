package blockchains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"vsnbridge/EVMRPC"
	"vsnbridge/config"
	"vsnbridge/metrics"
	"vsnbridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EVMClient is the BlockchainClient of every EVM compatible chain.
type EVMClient struct {
	blockchain types.Blockchain
	cfg        config.BlockchainConfig
	utilities  Utilities
	ledger     SubmissionLedger
	metrics    *metrics.Metrics
	logger     *logrus.Entry
	address    string
}

var _ BlockchainClient = (*EVMClient)(nil)

// NewEVMClient initialises the chain utilities for blockchain. Failures are
// reported as *BlockchainClientError.
func NewEVMClient(blockchain types.Blockchain, cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	logger = logger.WithField("blockchain", blockchain.Key())
	utilities, err := EVMRPC.New(cfg, logger)
	if err != nil {
		return nil, newError(blockchain, cfg, "init", "unable to initialize blockchain utilities", err)
	}
	return newEVMClient(blockchain, cfg, utilities, ledger, logger), nil
}

func newEVMClient(blockchain types.Blockchain, cfg config.BlockchainConfig, utilities Utilities, ledger SubmissionLedger, logger *logrus.Entry) *EVMClient {
	return &EVMClient{
		blockchain: blockchain,
		cfg:        cfg,
		utilities:  utilities,
		ledger:     ledger,
		metrics:    metrics.Default(),
		logger:     logger,
		address:    utilities.OwnAddress(),
	}
}

func NewEthereumClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.Ethereum, cfg, ledger, logger)
}

func NewBnbChainClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.BnbChain, cfg, ledger, logger)
}

func NewBitcoinRskClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.BitcoinRsk, cfg, ledger, logger)
}

func NewAvalancheClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.Avalanche, cfg, ledger, logger)
}

func NewPolygonClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.Polygon, cfg, ledger, logger)
}

func NewCronosClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.Cronos, cfg, ledger, logger)
}

func NewSonicClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.Sonic, cfg, ledger, logger)
}

func NewCeloClient(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error) {
	return NewEVMClient(types.Celo, cfg, ledger, logger)
}

func newError(blockchain types.Blockchain, cfg config.BlockchainConfig, op, message string, cause error) *BlockchainClientError {
	return &BlockchainClientError{
		Blockchain: blockchain,
		ChainID:    cfg.ChainID,
		Op:         op,
		Message:    message,
		Err:        cause,
	}
}

func (c *EVMClient) createError(op, message string, cause error) *BlockchainClientError {
	c.metrics.ClientError(c.blockchain.Key(), op)
	return newError(c.blockchain, c.cfg, op, message, cause)
}

func (c *EVMClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

func (c *EVMClient) Blockchain() types.Blockchain {
	return c.blockchain
}

func (c *EVMClient) Config() config.BlockchainConfig {
	return c.cfg
}

func (c *EVMClient) GetOwnAddress() string {
	return c.address
}

func (c *EVMClient) IsValidAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return ethav.Validate(common.HexToAddress(address).Hex()) == nil
}

func (c *EVMClient) IsValidRecipientAddress(address string) bool {
	return c.IsValidAddress(address) && common.HexToAddress(address) != (common.Address{})
}

func (c *EVMClient) ReadOwnVSNBalance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	balance, err := c.utilities.GetBalance(ctx, c.cfg.VSNToken, c.address)
	if err != nil {
		return nil, c.createError("ReadOwnVSNBalance", "unable to read the VSN balance of the service node", err)
	}
	return balance, nil
}

func (c *EVMClient) StartTransferSubmission(ctx context.Context, req TransferSubmissionRequest) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	logger := c.logger.WithField("internal_transaction_id", req.InternalTransactionID.String())

	previous, err := c.ledger.Submissions(ctx, req.InternalTransactionID)
	if err != nil {
		return "", c.createError("StartTransferSubmission", "unable to read submitted transactions", err)
	}
	if len(previous) > 0 {
		latest := previous[len(previous)-1]
		logger.Infof("Transfer already submitted as %s, rebroadcasting", latest.TransactionID)
		if err := c.utilities.SendTransaction(ctx, latest); err != nil && !errors.Is(err, EVMRPC.ErrNonceTooLow) {
			logger.Warnf("Rebroadcast of %s failed: %s", latest.TransactionID, err.Error())
		}
		return latest.TransactionID, nil
	}

	sub, err := c.utilities.BuildTransferTransaction(ctx, EVMRPC.TransferRequest{
		CrossChain:              req.DestinationBlockchain != c.blockchain,
		DestinationBlockchainID: uint64(req.DestinationBlockchain),
		Sender:                  req.SenderAddress,
		Recipient:               req.RecipientAddress,
		SourceToken:             req.SourceTokenAddress,
		DestinationToken:        req.DestinationTokenAddress,
		Amount:                  req.Amount,
		Fee:                     req.Fee,
		Nonce:                   req.Nonce,
		ValidUntil:              req.ValidUntil,
		Signature:               req.Signature,
	})
	if err != nil {
		return "", c.createError("StartTransferSubmission", "unable to build the transfer transaction", err)
	}
	sub.InternalTransactionID = req.InternalTransactionID

	// nothing is broadcast unless it is in the ledger first
	if err := c.ledger.AddSubmission(ctx, sub); err != nil {
		c.utilities.ReleaseNonce(sub.AccountNonce)
		return "", c.createError("StartTransferSubmission", "unable to record the transfer transaction", err)
	}
	if err := c.utilities.SendTransaction(ctx, sub); err != nil {
		// recorded; the status poll and resubmission take it from here
		c.metrics.ClientError(c.blockchain.Key(), "SendTransaction")
		logger.Warnf("Broadcast of %s failed: %s", sub.TransactionID, err.Error())
	}
	logger.Infof("Transfer submitted as %s (account nonce %d)", sub.TransactionID, sub.AccountNonce)
	return sub.TransactionID, nil
}

func (c *EVMClient) ResubmitTransfer(ctx context.Context, internalTransactionID uuid.UUID) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	logger := c.logger.WithField("internal_transaction_id", internalTransactionID.String())

	previous, err := c.ledger.Submissions(ctx, internalTransactionID)
	if err != nil {
		return "", c.createError("ResubmitTransfer", "unable to read submitted transactions", err)
	}
	if len(previous) == 0 {
		return "", c.createError("ResubmitTransfer", "no transaction submitted for transfer", nil)
	}
	latest := previous[len(previous)-1]

	// a replacement for a nonce that is already mined could never be broadcast
	used, err := c.utilities.NonceUsed(ctx, latest.AccountNonce)
	if err != nil {
		return "", c.createError("ResubmitTransfer", "unable to read the account nonce", err)
	}
	if used {
		logger.Infof("Account nonce %d already used, keeping %s", latest.AccountNonce, latest.TransactionID)
		return latest.TransactionID, nil
	}

	replacement, err := c.utilities.BuildReplacementTransaction(ctx, latest)
	if err != nil {
		return "", c.createError("ResubmitTransfer", "unable to build the replacement transaction", err)
	}
	replacement.InternalTransactionID = internalTransactionID
	if err := c.ledger.AddSubmission(ctx, replacement); err != nil {
		return "", c.createError("ResubmitTransfer", "unable to record the replacement transaction", err)
	}

	err = c.utilities.SendTransaction(ctx, replacement)
	switch {
	case errors.Is(err, EVMRPC.ErrNonceTooLow):
		// one of the earlier submissions has been mined meanwhile
		logger.Infof("Account nonce %d already used, keeping %s", latest.AccountNonce, latest.TransactionID)
		return latest.TransactionID, nil
	case err != nil:
		c.metrics.ClientError(c.blockchain.Key(), "SendTransaction")
		logger.Warnf("Broadcast of replacement %s failed: %s", replacement.TransactionID, err.Error())
	}
	logger.Infof("Transfer resubmitted as %s replacing %s", replacement.TransactionID, latest.TransactionID)
	return replacement.TransactionID, nil
}

func (c *EVMClient) GetTransferSubmissionStatus(ctx context.Context, internalTransactionID uuid.UUID, destination types.Blockchain) (*types.TransactionSubmissionStatusResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.getTransferSubmissionStatus(ctx, internalTransactionID, destination)
	if err != nil {
		c.metrics.SubmissionPoll(c.blockchain.Key(), "unresolvable")
		return nil, &UnresolvableTransferSubmissionError{
			BlockchainClientError: c.createError("GetTransferSubmissionStatus", "unable to get the transfer submission status", err),
		}
	}
	outcome := "pending"
	if res.Included {
		outcome = "included"
	}
	if res.Completed {
		outcome = strings.ToLower(string(res.Status))
	}
	c.metrics.SubmissionPoll(c.blockchain.Key(), outcome)
	return res, nil
}

func (c *EVMClient) getTransferSubmissionStatus(ctx context.Context, internalTransactionID uuid.UUID, destination types.Blockchain) (*types.TransactionSubmissionStatusResponse, error) {
	submissions, err := c.ledger.Submissions(ctx, internalTransactionID)
	if err != nil {
		return nil, err
	}
	if len(submissions) == 0 {
		return nil, fmt.Errorf("no transaction submitted for %s", internalTransactionID)
	}
	// newest first; a replacement is the most likely to be mined
	hashes := make([]string, 0, len(submissions))
	for i := len(submissions) - 1; i >= 0; i-- {
		hashes = append(hashes, submissions[i].TransactionID)
	}

	status, err := c.utilities.GetTransactionSubmissionStatus(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if !status.Completed {
		if status.Included {
			c.logger.WithField("internal_transaction_id", internalTransactionID.String()).
				Debugf("Transaction %s mined in block %d, waiting for confirmations", status.TransactionID, status.BlockNumber)
			return types.AwaitingConfirmations(), nil
		}
		return types.NotCompleted(), nil
	}
	if status.Status != types.TransactionStatusConfirmed {
		return types.Completed(status.Status, status.TransactionID, 0), nil
	}
	transferID, err := c.readOnChainTransferID(ctx, status.TransactionID, destination)
	if err != nil {
		return nil, err
	}
	return types.Completed(status.Status, status.TransactionID, transferID), nil
}

// readOnChainTransferID reads the id the hub assigned to the transfer. The
// event differs for transfers leaving this chain.
func (c *EVMClient) readOnChainTransferID(ctx context.Context, txHash string, destination types.Blockchain) (uint64, error) {
	return c.utilities.ReadTransferID(ctx, txHash, destination != c.blockchain)
}

// BidMessage is the message signed for a bid.
func BidMessage(bid types.ServiceNodeBid) []byte {
	fee := "0"
	if bid.Fee != nil {
		fee = bid.Fee.String()
	}
	return []byte(fmt.Sprintf("%d:%d:%s:%d:%d", uint8(bid.SourceBlockchain), uint8(bid.DestinationBlockchain), fee, bid.ExecutionTime, bid.ValidUntil))
}

func (c *EVMClient) SignBid(bid types.ServiceNodeBid) (string, error) {
	signature, err := c.utilities.SignMessage(BidMessage(bid))
	if err != nil {
		return "", c.createError("SignBid", "unable to sign bid", err)
	}
	return signature, nil
}

func (c *EVMClient) GetNodeHealth(ctx context.Context) types.NodeHealth {
	healthy, unhealthy := c.utilities.ProbeProviders()
	if unhealthy == nil {
		unhealthy = []string{}
	}
	return types.NodeHealth{
		Blockchain:         c.blockchain.Name(),
		HealthyTotal:       len(healthy),
		UnhealthyTotal:     len(unhealthy),
		UnhealthyEndpoints: unhealthy,
	}
}

func (c *EVMClient) Close() {
	c.utilities.Close()
}
