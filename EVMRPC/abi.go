package EVMRPC

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// subset of the hub contract used by the service node
const hubABIJSON = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[
     {"name":"request","type":"tuple","components":[
       {"name":"sender","type":"address"},
       {"name":"recipient","type":"address"},
       {"name":"token","type":"address"},
       {"name":"amount","type":"uint256"},
       {"name":"serviceNode","type":"address"},
       {"name":"fee","type":"uint256"},
       {"name":"nonce","type":"uint256"},
       {"name":"validUntil","type":"uint256"}]},
     {"name":"signature","type":"bytes"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transferFromTo","stateMutability":"nonpayable",
   "inputs":[
     {"name":"request","type":"tuple","components":[
       {"name":"destinationBlockchainId","type":"uint256"},
       {"name":"sender","type":"address"},
       {"name":"recipient","type":"string"},
       {"name":"sourceToken","type":"address"},
       {"name":"destinationToken","type":"string"},
       {"name":"amount","type":"uint256"},
       {"name":"serviceNode","type":"address"},
       {"name":"fee","type":"uint256"},
       {"name":"nonce","type":"uint256"},
       {"name":"validUntil","type":"uint256"}]},
     {"name":"signature","type":"bytes"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"TransferSucceeded","anonymous":false,
   "inputs":[
     {"name":"transferId","type":"uint256","indexed":false},
     {"name":"sender","type":"address","indexed":true},
     {"name":"nonce","type":"uint256","indexed":false}]},
  {"type":"event","name":"TransferFromSucceeded","anonymous":false,
   "inputs":[
     {"name":"sourceTransferId","type":"uint256","indexed":false},
     {"name":"sender","type":"address","indexed":true},
     {"name":"nonce","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// field names must match the tuple components in camel case
type hubTransferRequest struct {
	Sender      common.Address
	Recipient   common.Address
	Token       common.Address
	Amount      *big.Int
	ServiceNode common.Address
	Fee         *big.Int
	Nonce       *big.Int
	ValidUntil  *big.Int
}

type hubTransferFromRequest struct {
	DestinationBlockchainId *big.Int
	Sender                  common.Address
	Recipient               string
	SourceToken             common.Address
	DestinationToken        string
	Amount                  *big.Int
	ServiceNode             common.Address
	Fee                     *big.Int
	Nonce                   *big.Int
	ValidUntil              *big.Int
}
