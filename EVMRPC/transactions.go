package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"vsnbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TransferRequest is the signed user request forwarded to the hub contract.
// CrossChain selects transferFromTo instead of transfer.
type TransferRequest struct {
	CrossChain              bool
	DestinationBlockchainID uint64
	Sender                  string
	Recipient               string
	SourceToken             string
	DestinationToken        string
	Amount                  *big.Int
	Fee                     *big.Int
	Nonce                   uint64
	ValidUntil              int64
	Signature               string
}

// SubmissionStatus is the result of polling a set of submitted transactions.
// Included is set for a mined transaction that is not yet buried under the
// required confirmations; BlockNumber and TransactionID then name it.
type SubmissionStatus struct {
	Completed     bool
	Included      bool
	BlockNumber   uint64
	Status        types.TransactionStatus
	TransactionID string
}

func (u *Utilities) encodeTransfer(req TransferRequest) ([]byte, error) {
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid request signature: %w", err)
	}
	if req.CrossChain {
		return u.hubABI.Pack("transferFromTo", hubTransferFromRequest{
			DestinationBlockchainId: new(big.Int).SetUint64(req.DestinationBlockchainID),
			Sender:                  common.HexToAddress(req.Sender),
			Recipient:               req.Recipient,
			SourceToken:             common.HexToAddress(req.SourceToken),
			DestinationToken:        req.DestinationToken,
			Amount:                  req.Amount,
			ServiceNode:             u.address,
			Fee:                     req.Fee,
			Nonce:                   new(big.Int).SetUint64(req.Nonce),
			ValidUntil:              big.NewInt(req.ValidUntil),
		}, signature)
	}
	return u.hubABI.Pack("transfer", hubTransferRequest{
		Sender:      common.HexToAddress(req.Sender),
		Recipient:   common.HexToAddress(req.Recipient),
		Token:       common.HexToAddress(req.SourceToken),
		Amount:      req.Amount,
		ServiceNode: u.address,
		Fee:         req.Fee,
		Nonce:       new(big.Int).SetUint64(req.Nonce),
		ValidUntil:  big.NewInt(req.ValidUntil),
	}, signature)
}

// allocateNonce hands out account nonces so that concurrent submissions from
// this process never share one.
func (u *Utilities) allocateNonce(ctx context.Context) (uint64, error) {
	u.nonceMu.Lock()
	defer u.nonceMu.Unlock()

	pending, err := withClient(ctx, u, "PendingNonceAt", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, u.address)
	})
	if err != nil {
		return 0, err
	}
	nonce := pending
	if u.nextNonce > nonce {
		nonce = u.nextNonce
	}
	u.nextNonce = nonce + 1
	return nonce, nil
}

func (u *Utilities) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withClient(ctx, u, "SuggestGasPrice", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

func (u *Utilities) sign(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(u.chainID), u.key)
}

func submission(tx *ethtypes.Transaction) (types.TransactionSubmission, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return types.TransactionSubmission{}, err
	}
	return types.TransactionSubmission{
		TransactionID:  tx.Hash().Hex(),
		RawTransaction: hexutil.Encode(raw),
		AccountNonce:   tx.Nonce(),
		SubmittedAt:    time.Now().UTC(),
	}, nil
}

// BuildTransferTransaction signs the hub call for req without broadcasting it.
func (u *Utilities) BuildTransferTransaction(ctx context.Context, req TransferRequest) (types.TransactionSubmission, error) {
	data, err := u.encodeTransfer(req)
	if err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildTransferTransaction", Err: err}
	}
	gasPrice, err := u.suggestGasPrice(ctx)
	if err != nil {
		return types.TransactionSubmission{}, err
	}
	nonce, err := u.allocateNonce(ctx)
	if err != nil {
		return types.TransactionSubmission{}, err
	}

	tx, err := u.sign(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      u.cfg.GasLimit,
		To:       &u.hub,
		Value:    big.NewInt(0),
		Data:     data,
	}))
	if err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildTransferTransaction", Err: err}
	}
	sub, err := submission(tx)
	if err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildTransferTransaction", Err: err}
	}
	return sub, nil
}

// BuildReplacementTransaction re-signs a previously built transaction with
// the same account nonce and a gas price bumped by the configured percentage
// (or the current suggestion if that is higher). Only one of the two can ever
// be mined.
func (u *Utilities) BuildReplacementTransaction(ctx context.Context, previous types.TransactionSubmission) (types.TransactionSubmission, error) {
	raw, err := hexutil.Decode(previous.RawTransaction)
	if err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildReplacementTransaction", Err: err}
	}
	var prevTx ethtypes.Transaction
	if err := prevTx.UnmarshalBinary(raw); err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildReplacementTransaction", Err: err}
	}

	gasPrice := new(big.Int).Mul(prevTx.GasPrice(), big.NewInt(int64(100+u.cfg.FeeBumpPercent)))
	gasPrice.Div(gasPrice, big.NewInt(100))
	suggested, err := u.suggestGasPrice(ctx)
	if err != nil {
		return types.TransactionSubmission{}, err
	}
	if suggested.Cmp(gasPrice) > 0 {
		gasPrice = suggested
	}

	tx, err := u.sign(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    prevTx.Nonce(),
		GasPrice: gasPrice,
		Gas:      prevTx.Gas(),
		To:       prevTx.To(),
		Value:    prevTx.Value(),
		Data:     prevTx.Data(),
	}))
	if err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildReplacementTransaction", Err: err}
	}
	sub, err := submission(tx)
	if err != nil {
		return types.TransactionSubmission{}, &Error{Op: "BuildReplacementTransaction", Err: err}
	}
	return sub, nil
}

// SendTransaction broadcasts a signed transaction. Rebroadcasting a
// transaction the node already knows is not an error.
func (u *Utilities) SendTransaction(ctx context.Context, sub types.TransactionSubmission) error {
	raw, err := hexutil.Decode(sub.RawTransaction)
	if err != nil {
		return &Error{Op: "SendTransaction", Err: err}
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return &Error{Op: "SendTransaction", Err: err}
	}

	_, err = withClient(ctx, u, "SendTransaction", func(ctx context.Context, client *ethclient.Client) (struct{}, error) {
		err := client.SendTransaction(ctx, tx)
		if err == nil {
			return struct{}{}, nil
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"):
			return struct{}{}, nil
		case strings.Contains(msg, "nonce too low"):
			return struct{}{}, fmt.Errorf("%w: %s", ErrNonceTooLow, err.Error())
		}
		return struct{}{}, err
	})
	return err
}

func (u *Utilities) receipt(ctx context.Context, txHash string) (*ethtypes.Receipt, error) {
	return withClient(ctx, u, "TransactionReceipt", func(ctx context.Context, client *ethclient.Client) (*ethtypes.Receipt, error) {
		receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return receipt, err
	})
}

// GetTransactionSubmissionStatus checks the given transactions (all sharing
// one account nonce) and reports the one that was mined, once it is buried
// under the configured number of confirmations.
func (u *Utilities) GetTransactionSubmissionStatus(ctx context.Context, txHashes []string) (SubmissionStatus, error) {
	latest, err := withClient(ctx, u, "BlockNumber", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return SubmissionStatus{}, err
	}

	for _, txHash := range txHashes {
		receipt, err := u.receipt(ctx, txHash)
		if err != nil {
			return SubmissionStatus{}, err
		}
		if receipt == nil || receipt.BlockNumber == nil {
			continue
		}
		mined := receipt.BlockNumber.Uint64()
		if latest < mined || latest-mined+1 < uint64(u.cfg.Confirmations) {
			return SubmissionStatus{Included: true, BlockNumber: mined, TransactionID: txHash}, nil
		}
		status := types.TransactionStatusReverted
		if receipt.Status == ethtypes.ReceiptStatusSuccessful {
			status = types.TransactionStatusConfirmed
		}
		return SubmissionStatus{Completed: true, Status: status, TransactionID: txHash}, nil
	}
	return SubmissionStatus{Completed: false}, nil
}

// ReadTransferID extracts the transfer id assigned by the hub from the logs
// of a mined transaction.
func (u *Utilities) ReadTransferID(ctx context.Context, txHash string, crossChain bool) (uint64, error) {
	receipt, err := u.receipt(ctx, txHash)
	if err != nil {
		return 0, err
	}
	if receipt == nil {
		return 0, &Error{Op: "ReadTransferID", Err: fmt.Errorf("no receipt for %s", txHash)}
	}

	event := u.hubABI.Events["TransferSucceeded"]
	if crossChain {
		event = u.hubABI.Events["TransferFromSucceeded"]
	}
	for _, lg := range receipt.Logs {
		if lg.Address != u.hub || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.Unpack(lg.Data)
		if err != nil {
			return 0, &Error{Op: "ReadTransferID", Err: err}
		}
		id, ok := values[0].(*big.Int)
		if !ok || !id.IsUint64() {
			return 0, &Error{Op: "ReadTransferID", Err: fmt.Errorf("unexpected transfer id %v", values[0])}
		}
		return id.Uint64(), nil
	}
	return 0, &Error{Op: "ReadTransferID", Err: fmt.Errorf("no %s event in %s", event.Name, txHash)}
}

// GetBalance reads the ERC-20 balance of owner.
func (u *Utilities) GetBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := u.erc20.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, &Error{Op: "GetBalance", Err: err}
	}
	tokenAddress := common.HexToAddress(token)
	out, err := withClient(ctx, u, "GetBalance", func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddress, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	values, err := u.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, &Error{Op: "GetBalance", Err: err}
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, &Error{Op: "GetBalance", Err: fmt.Errorf("unexpected balance %v", values[0])}
	}
	return balance, nil
}

// SignMessage signs msg with the service node key (EIP-191 personal message).
func (u *Utilities) SignMessage(msg []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), u.key)
	if err != nil {
		return "", &Error{Op: "SignMessage", Err: err}
	}
	return hexutil.Encode(sig), nil
}

// NonceUsed reports whether a transaction with the given account nonce has
// been mined.
func (u *Utilities) NonceUsed(ctx context.Context, nonce uint64) (bool, error) {
	mined, err := withClient(ctx, u, "NonceAt", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.NonceAt(ctx, u.address, nil)
	})
	if err != nil {
		return false, err
	}
	return mined > nonce, nil
}

// ReleaseNonce gives back the most recently allocated account nonce when the
// transaction built with it is discarded before broadcast.
func (u *Utilities) ReleaseNonce(nonce uint64) {
	u.nonceMu.Lock()
	defer u.nonceMu.Unlock()

	if u.nextNonce == nonce+1 {
		u.nextNonce = nonce
	}
}
