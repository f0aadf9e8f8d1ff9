package blockchains

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"vsnbridge/EVMRPC"
	"vsnbridge/config"
	"vsnbridge/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwnAddress    = "0x7De6Ce2Ce98B446CdD2730d2D49B0e1FEe2Ff85C"
	testTransactionID = "0x5792e26d11cdf54155de59de5ddcca3f9d084ce89f4b5d4f9e50ec30c726be70"
	testTransferID    = uint64(10512)
)

var errUtilities = errors.New("utilities failure")

type fakeUtilities struct {
	mu sync.Mutex

	balance    *big.Int
	balanceErr error

	status    EVMRPC.SubmissionStatus
	statusErr error
	polled    [][]string

	transferID    uint64
	transferIDErr error
	crossChain    []bool

	buildErr  error
	sendErr   error
	nonceUsed bool
	nonce     uint64
	built     int
	sent      []types.TransactionSubmission
	released  []uint64
}

func (f *fakeUtilities) OwnAddress() string { return testOwnAddress }

func (f *fakeUtilities) BuildTransferTransaction(_ context.Context, req EVMRPC.TransferRequest) (types.TransactionSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return types.TransactionSubmission{}, f.buildErr
	}
	f.built++
	nonce := f.nonce
	f.nonce++
	return types.TransactionSubmission{
		TransactionID:  testTransactionID,
		RawTransaction: "0x01",
		AccountNonce:   nonce,
		SubmittedAt:    time.Now(),
	}, nil
}

func (f *fakeUtilities) BuildReplacementTransaction(_ context.Context, previous types.TransactionSubmission) (types.TransactionSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built++
	return types.TransactionSubmission{
		TransactionID:  previous.TransactionID + "ff",
		RawTransaction: previous.RawTransaction + "ff",
		AccountNonce:   previous.AccountNonce,
		SubmittedAt:    time.Now(),
	}, nil
}

func (f *fakeUtilities) ReleaseNonce(nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, nonce)
}

func (f *fakeUtilities) NonceUsed(context.Context, uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonceUsed, nil
}

func (f *fakeUtilities) SendTransaction(_ context.Context, sub types.TransactionSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub)
	return f.sendErr
}

func (f *fakeUtilities) GetTransactionSubmissionStatus(_ context.Context, hashes []string) (EVMRPC.SubmissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, hashes)
	return f.status, f.statusErr
}

func (f *fakeUtilities) ReadTransferID(_ context.Context, _ string, crossChain bool) (uint64, error) {
	f.crossChain = append(f.crossChain, crossChain)
	return f.transferID, f.transferIDErr
}

func (f *fakeUtilities) GetBalance(context.Context, string, string) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeUtilities) SignMessage(msg []byte) (string, error) {
	return "0xsigned", nil
}

func (f *fakeUtilities) ProbeProviders() ([]string, []string) {
	return []string{"http://a"}, []string{"http://b"}
}

func (f *fakeUtilities) Close() {}

type memoryLedger struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]types.TransactionSubmission
	err  error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{subs: make(map[uuid.UUID][]types.TransactionSubmission)}
}

func (l *memoryLedger) AddSubmission(_ context.Context, sub types.TransactionSubmission) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.subs[sub.InternalTransactionID] = append(l.subs[sub.InternalTransactionID], sub)
	return nil
}

func (l *memoryLedger) Submissions(_ context.Context, id uuid.UUID) ([]types.TransactionSubmission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.TransactionSubmission(nil), l.subs[id]...), nil
}

func testConfig() config.BlockchainConfig {
	return config.BlockchainConfig{
		Active:           true,
		Provider:         "http://localhost:8545",
		AverageBlockTime: 14,
		Confirmations:    12,
		ChainID:          1,
		VSNToken:         "0xcd8fa68c471d7703C074EA5e2C56B852795B33c0",
		RequestTimeout:   time.Second,
		FeeBumpPercent:   20,
	}
}

func newTestClient(u *fakeUtilities, ledger *memoryLedger) *EVMClient {
	return newEVMClient(types.Ethereum, testConfig(), u, ledger, logrus.NewEntry(logrus.New()))
}

func submissionRequest(id uuid.UUID, destination types.Blockchain) TransferSubmissionRequest {
	return TransferSubmissionRequest{
		InternalTransactionID:   id,
		DestinationBlockchain:   destination,
		SenderAddress:           testOwnAddress,
		RecipientAddress:        testOwnAddress,
		SourceTokenAddress:      testOwnAddress,
		DestinationTokenAddress: testOwnAddress,
		Amount:                  big.NewInt(1000),
		Fee:                     big.NewInt(1),
		Nonce:                   7,
		ValidUntil:              time.Now().Add(time.Hour).Unix(),
		Signature:               "0x00",
	}
}

func TestNewEVMClientInitError(t *testing.T) {
	cfg := testConfig()
	cfg.Hub = "not an address"

	_, err := NewEthereumClient(cfg, newMemoryLedger(), logrus.NewEntry(logrus.New()))
	require.Error(t, err)

	var clientErr *BlockchainClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "init", clientErr.Op)
	assert.Equal(t, types.Ethereum, clientErr.Blockchain)

	var utilitiesErr *EVMRPC.Error
	assert.ErrorAs(t, err, &utilitiesErr)
}

func TestNewClientSolanaNotSupported(t *testing.T) {
	_, err := NewClient(types.Solana, testConfig(), newMemoryLedger(), logrus.NewEntry(logrus.New()))
	var clientErr *BlockchainClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, types.Solana, clientErr.Blockchain)
}

func TestAddressValidation(t *testing.T) {
	c := newTestClient(&fakeUtilities{}, newMemoryLedger())

	assert.True(t, c.IsValidAddress(testOwnAddress))
	assert.True(t, c.IsValidAddress("0x7de6ce2ce98b446cdd2730d2d49b0e1fee2ff85c"))
	assert.False(t, c.IsValidAddress("0x7De6Ce2Ce98B446CdD2730d2D49B0e1FEe2Ff8"))
	assert.False(t, c.IsValidAddress("not an address"))
	assert.False(t, c.IsValidAddress(""))

	zero := "0x0000000000000000000000000000000000000000"
	assert.True(t, c.IsValidAddress(zero))
	assert.False(t, c.IsValidRecipientAddress(zero))
	assert.True(t, c.IsValidRecipientAddress(testOwnAddress))
	assert.Equal(t, testOwnAddress, c.GetOwnAddress())
}

func TestReadOwnVSNBalance(t *testing.T) {
	balance := new(big.Int).Mul(big.NewInt(100000), big.NewInt(100000000))
	c := newTestClient(&fakeUtilities{balance: balance}, newMemoryLedger())

	got, err := c.ReadOwnVSNBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(got))
}

func TestReadOwnVSNBalanceError(t *testing.T) {
	c := newTestClient(&fakeUtilities{balanceErr: errUtilities}, newMemoryLedger())

	got, err := c.ReadOwnVSNBalance(context.Background())
	assert.Nil(t, got)
	var clientErr *BlockchainClientError
	require.ErrorAs(t, err, &clientErr)
	assert.ErrorIs(t, err, errUtilities)
}

func TestGetTransferSubmissionStatusNotCompleted(t *testing.T) {
	ledger := newMemoryLedger()
	c := newTestClient(&fakeUtilities{}, ledger)
	id := uuid.New()
	_, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Sonic))
	require.NoError(t, err)

	res, err := c.GetTransferSubmissionStatus(context.Background(), id, types.Sonic)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Nil(t, res.OnChainTransferID)
}

func TestGetTransferSubmissionStatusIncluded(t *testing.T) {
	u := &fakeUtilities{
		status: EVMRPC.SubmissionStatus{Included: true, BlockNumber: 100, TransactionID: testTransactionID},
	}
	c := newTestClient(u, newMemoryLedger())
	id := uuid.New()
	_, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)

	res, err := c.GetTransferSubmissionStatus(context.Background(), id, types.Ethereum)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.True(t, res.Included)
	assert.Empty(t, res.Status)
	assert.Empty(t, res.TransactionID)
	assert.Nil(t, res.OnChainTransferID)
	assert.Empty(t, u.crossChain)
}

func TestGetTransferSubmissionStatusCompleted(t *testing.T) {
	for _, status := range []types.TransactionStatus{types.TransactionStatusConfirmed, types.TransactionStatusReverted} {
		t.Run(string(status), func(t *testing.T) {
			u := &fakeUtilities{
				status:     EVMRPC.SubmissionStatus{Completed: true, Status: status, TransactionID: testTransactionID},
				transferID: testTransferID,
			}
			c := newTestClient(u, newMemoryLedger())
			id := uuid.New()
			_, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Sonic))
			require.NoError(t, err)

			res, err := c.GetTransferSubmissionStatus(context.Background(), id, types.Sonic)
			require.NoError(t, err)
			assert.True(t, res.Completed)
			assert.Equal(t, status, res.Status)
			assert.Equal(t, testTransactionID, res.TransactionID)
			if status == types.TransactionStatusConfirmed {
				require.NotNil(t, res.OnChainTransferID)
				assert.Equal(t, testTransferID, *res.OnChainTransferID)
				assert.Equal(t, []bool{true}, u.crossChain)
			} else {
				assert.Nil(t, res.OnChainTransferID)
				assert.Empty(t, u.crossChain)
			}
		})
	}
}

func TestGetTransferSubmissionStatusError(t *testing.T) {
	u := &fakeUtilities{statusErr: errUtilities}
	c := newTestClient(u, newMemoryLedger())
	id := uuid.New()
	_, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)

	_, err = c.GetTransferSubmissionStatus(context.Background(), id, types.Ethereum)
	var unresolvable *UnresolvableTransferSubmissionError
	require.ErrorAs(t, err, &unresolvable)
	var clientErr *BlockchainClientError
	assert.ErrorAs(t, err, &clientErr)
	assert.ErrorIs(t, err, errUtilities)
}

func TestGetTransferSubmissionStatusTransferIDError(t *testing.T) {
	u := &fakeUtilities{
		status:        EVMRPC.SubmissionStatus{Completed: true, Status: types.TransactionStatusConfirmed, TransactionID: testTransactionID},
		transferIDErr: errUtilities,
	}
	c := newTestClient(u, newMemoryLedger())
	id := uuid.New()
	_, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)

	_, err = c.GetTransferSubmissionStatus(context.Background(), id, types.Ethereum)
	var unresolvable *UnresolvableTransferSubmissionError
	require.ErrorAs(t, err, &unresolvable)
	assert.Equal(t, []bool{false}, u.crossChain)
}

func TestGetTransferSubmissionStatusWithoutSubmission(t *testing.T) {
	u := &fakeUtilities{}
	c := newTestClient(u, newMemoryLedger())

	_, err := c.GetTransferSubmissionStatus(context.Background(), uuid.New(), types.Ethereum)
	var unresolvable *UnresolvableTransferSubmissionError
	require.ErrorAs(t, err, &unresolvable)
	assert.Empty(t, u.polled)
}

func TestStartTransferSubmissionIsIdempotent(t *testing.T) {
	u := &fakeUtilities{}
	ledger := newMemoryLedger()
	c := newTestClient(u, ledger)
	id := uuid.New()

	first, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)
	second, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, u.built)
	subs, _ := ledger.Submissions(context.Background(), id)
	assert.Len(t, subs, 1)
	assert.Equal(t, id, subs[0].InternalTransactionID)
}

func TestStartTransferSubmissionBroadcastFailureIsRecorded(t *testing.T) {
	u := &fakeUtilities{sendErr: errUtilities}
	ledger := newMemoryLedger()
	c := newTestClient(u, ledger)
	id := uuid.New()

	txID, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)
	assert.Equal(t, testTransactionID, txID)
	subs, _ := ledger.Submissions(context.Background(), id)
	assert.Len(t, subs, 1)
}

func TestStartTransferSubmissionLedgerFailureReleasesNonce(t *testing.T) {
	u := &fakeUtilities{nonce: 5}
	ledger := newMemoryLedger()
	ledger.err = errUtilities
	c := newTestClient(u, ledger)

	_, err := c.StartTransferSubmission(context.Background(), submissionRequest(uuid.New(), types.Ethereum))
	var clientErr *BlockchainClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, []uint64{5}, u.released)
	assert.Empty(t, u.sent)
}

func TestStartTransferSubmissionBuildError(t *testing.T) {
	u := &fakeUtilities{buildErr: errUtilities}
	c := newTestClient(u, newMemoryLedger())

	_, err := c.StartTransferSubmission(context.Background(), submissionRequest(uuid.New(), types.Ethereum))
	var clientErr *BlockchainClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "StartTransferSubmission", clientErr.Op)
}

func TestResubmitTransferKeepsAccountNonce(t *testing.T) {
	u := &fakeUtilities{nonce: 3}
	ledger := newMemoryLedger()
	c := newTestClient(u, ledger)
	id := uuid.New()

	first, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)
	second, err := c.ResubmitTransfer(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	subs, _ := ledger.Submissions(context.Background(), id)
	require.Len(t, subs, 2)
	assert.Equal(t, subs[0].AccountNonce, subs[1].AccountNonce)

	// every known hash is checked, newest first
	_, err = c.GetTransferSubmissionStatus(context.Background(), id, types.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, u.polled[0])
}

func TestResubmitTransferNonceAlreadyMined(t *testing.T) {
	u := &fakeUtilities{}
	c := newTestClient(u, newMemoryLedger())
	id := uuid.New()

	first, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)
	u.sendErr = EVMRPC.ErrNonceTooLow

	txID, err := c.ResubmitTransfer(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, txID)
}

func TestResubmitTransferSkipsMinedNonce(t *testing.T) {
	u := &fakeUtilities{}
	ledger := newMemoryLedger()
	c := newTestClient(u, ledger)
	id := uuid.New()

	first, err := c.StartTransferSubmission(context.Background(), submissionRequest(id, types.Ethereum))
	require.NoError(t, err)
	u.nonceUsed = true

	txID, err := c.ResubmitTransfer(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, txID)
	assert.Equal(t, 1, u.built)
	subs, _ := ledger.Submissions(context.Background(), id)
	assert.Len(t, subs, 1)
}

func TestResubmitTransferWithoutSubmission(t *testing.T) {
	c := newTestClient(&fakeUtilities{}, newMemoryLedger())

	_, err := c.ResubmitTransfer(context.Background(), uuid.New())
	var clientErr *BlockchainClientError
	require.ErrorAs(t, err, &clientErr)
}

func TestSignBidAndNodeHealth(t *testing.T) {
	c := newTestClient(&fakeUtilities{}, newMemoryLedger())

	signature, err := c.SignBid(types.ServiceNodeBid{Fee: big.NewInt(10)})
	require.NoError(t, err)
	assert.Equal(t, "0xsigned", signature)

	health := c.GetNodeHealth(context.Background())
	assert.Equal(t, "ETHEREUM", health.Blockchain)
	assert.Equal(t, 1, health.HealthyTotal)
	assert.Equal(t, 1, health.UnhealthyTotal)
	assert.Equal(t, []string{"http://b"}, health.UnhealthyEndpoints)
}

func TestRegistryFromClients(t *testing.T) {
	eth := newTestClient(&fakeUtilities{}, newMemoryLedger())
	sonic := newEVMClient(types.Sonic, testConfig(), &fakeUtilities{}, newMemoryLedger(), logrus.NewEntry(logrus.New()))

	r := NewRegistryFromClients(sonic, eth)
	got, ok := r.Client(types.Sonic)
	require.True(t, ok)
	assert.Equal(t, types.Sonic, got.Blockchain())
	_, ok = r.Client(types.Celo)
	assert.False(t, ok)

	clients := r.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, types.Ethereum, clients[0].Blockchain())
}
