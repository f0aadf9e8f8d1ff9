package blockchains

import (
	"fmt"
	"sort"

	"vsnbridge/config"
	"vsnbridge/types"

	"github.com/sirupsen/logrus"
)

type constructor func(cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (*EVMClient, error)

var constructors = map[types.Blockchain]constructor{
	types.Ethereum:   NewEthereumClient,
	types.BnbChain:   NewBnbChainClient,
	types.BitcoinRsk: NewBitcoinRskClient,
	types.Avalanche:  NewAvalancheClient,
	types.Polygon:    NewPolygonClient,
	types.Cronos:     NewCronosClient,
	types.Sonic:      NewSonicClient,
	types.Celo:       NewCeloClient,
}

// NewClient creates the client of one blockchain.
func NewClient(blockchain types.Blockchain, cfg config.BlockchainConfig, ledger SubmissionLedger, logger *logrus.Entry) (BlockchainClient, error) {
	newClient, ok := constructors[blockchain]
	if !ok {
		return nil, newError(blockchain, cfg, "init", "blockchain not supported", nil)
	}
	client, err := newClient(cfg, ledger, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Registry holds the clients of the active blockchains.
type Registry struct {
	clients map[types.Blockchain]BlockchainClient
}

// NewRegistry initialises a client for every active blockchain. It fails if
// any of them cannot be initialised.
func NewRegistry(cfg *config.Configuration, ledger SubmissionLedger, logger *logrus.Entry) (*Registry, error) {
	r := &Registry{clients: make(map[types.Blockchain]BlockchainClient)}
	for _, blockchain := range cfg.ActiveBlockchains() {
		chainCfg, _ := cfg.Blockchain(blockchain)
		client, err := NewClient(blockchain, chainCfg, ledger, logger)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("cannot initialize %s client: %w", blockchain.Name(), err)
		}
		logger.WithField("blockchain", blockchain.Key()).Infof("Blockchain client initialized, own address %s", client.GetOwnAddress())
		r.clients[blockchain] = client
	}
	return r, nil
}

// NewRegistryFromClients wraps already constructed clients.
func NewRegistryFromClients(clients ...BlockchainClient) *Registry {
	r := &Registry{clients: make(map[types.Blockchain]BlockchainClient, len(clients))}
	for _, client := range clients {
		r.clients[client.Blockchain()] = client
	}
	return r
}

func (r *Registry) Client(blockchain types.Blockchain) (BlockchainClient, bool) {
	client, ok := r.clients[blockchain]
	return client, ok
}

// Clients returns the clients ordered by blockchain id.
func (r *Registry) Clients() []BlockchainClient {
	list := make([]BlockchainClient, 0, len(r.clients))
	for _, client := range r.clients {
		list = append(list, client)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Blockchain() < list[j].Blockchain()
	})
	return list
}

func (r *Registry) Close() {
	for _, client := range r.clients {
		client.Close()
	}
}
