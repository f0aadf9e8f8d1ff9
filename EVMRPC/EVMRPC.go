package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"vsnbridge/config"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Error is returned by every Utilities call; Op names the failed primitive.
type Error struct {
	Op       string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s via %s: %v", e.Op, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNonceTooLow means another transaction with the same account nonce has
// already been mined.
var ErrNonceTooLow = errors.New("nonce too low")

// Utilities is the low-level access to one EVM chain: provider fallback,
// signing with the service node key and hub contract encoding.
type Utilities struct {
	cfg     config.BlockchainConfig
	key     *ecdsa.PrivateKey
	address common.Address
	hub     common.Address
	chainID *big.Int
	hubABI  abi.ABI
	erc20   abi.ABI
	limiter *rate.Limiter
	logger  *logrus.Entry

	mu      sync.Mutex
	clients map[string]*ethclient.Client

	nonceMu   sync.Mutex
	nextNonce uint64
}

// New loads the keystore and prepares the contract ABIs. Providers are
// dialed lazily on first use.
func New(cfg config.BlockchainConfig, logger *logrus.Entry) (*Utilities, error) {
	if len(cfg.Providers()) == 0 {
		return nil, &Error{Op: "init", Err: errors.New("no provider configured")}
	}
	if !common.IsHexAddress(cfg.Hub) {
		return nil, &Error{Op: "init", Err: fmt.Errorf("invalid hub address %q", cfg.Hub)}
	}
	keyJSON, err := os.ReadFile(cfg.PrivateKey)
	if err != nil {
		return nil, &Error{Op: "init", Err: fmt.Errorf("cannot read keystore: %w", err)}
	}
	key, err := keystore.DecryptKey(keyJSON, cfg.PrivateKeyPassword)
	if err != nil {
		return nil, &Error{Op: "init", Err: fmt.Errorf("cannot decrypt keystore: %w", err)}
	}
	hubABI, err := abi.JSON(strings.NewReader(hubABIJSON))
	if err != nil {
		return nil, &Error{Op: "init", Err: err}
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, &Error{Op: "init", Err: err}
	}

	u := &Utilities{
		cfg:     cfg,
		key:     key.PrivateKey,
		address: key.Address,
		hub:     common.HexToAddress(cfg.Hub),
		chainID: big.NewInt(cfg.ChainID),
		hubABI:  hubABI,
		erc20:   erc20ABI,
		logger:  logger,
		clients: make(map[string]*ethclient.Client),
	}
	if cfg.RequestsPerSecond > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return u, nil
}

func (u *Utilities) OwnAddress() string {
	return u.address.Hex()
}

func (u *Utilities) client(ctx context.Context, url string) (*ethclient.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if c, ok := u.clients[url]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	u.clients[url] = c
	return c, nil
}

func (u *Utilities) dropClient(url string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if c, ok := u.clients[url]; ok {
		c.Close()
		delete(u.clients, url)
	}
}

// Close releases every dialed provider connection.
func (u *Utilities) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()

	for url, c := range u.clients {
		c.Close()
		delete(u.clients, url)
	}
}

// withClient runs f against the configured providers in order until one
// succeeds. The last error is returned if all of them fail.
func withClient[T any](ctx context.Context, u *Utilities, op string, f func(ctx context.Context, client *ethclient.Client) (T, error)) (res T, err error) {
	for _, url := range u.cfg.Providers() {
		if u.limiter != nil {
			if err = u.limiter.Wait(ctx); err != nil {
				return res, &Error{Op: op, Err: err}
			}
		}

		var client *ethclient.Client
		client, err = u.client(ctx, url)
		if err != nil {
			u.logger.Warnf("Error connecting to %s: %s", url, err.Error())
			err = &Error{Op: op, Provider: url, Err: err}
			continue
		}

		res, err = f(ctx, client)
		if err == nil {
			return res, nil
		}
		err = &Error{Op: op, Provider: url, Err: err}
		if ctx.Err() != nil {
			// no time left for the fallbacks
			return res, err
		}
		u.logger.Warnf("Error calling %s on %s: %s", op, url, err.Error())
		u.dropClient(url)
	}
	return res, err
}
