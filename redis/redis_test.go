package redis

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"vsnbridge/queue"
	"vsnbridge/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*redis.Pool, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	pool := &redis.Pool{
		MaxIdle: 5,
		Dial:    func() (redis.Conn, error) { return redis.Dial("tcp", mr.Addr(), timeoutDialOptions()...) },
	}
	t.Cleanup(func() { pool.Close() })
	return pool, mr
}

func newTestRecord(sender string, nonce uint64) *types.TransferRecord {
	now := time.Now().UTC()
	return &types.TransferRecord{
		ID:                    uuid.New(),
		SourceBlockchain:      types.Ethereum,
		DestinationBlockchain: types.Sonic,
		SenderAddress:         sender,
		RecipientAddress:      "0x7De6Ce2Ce98B446CdD2730d2D49B0e1FEe2Ff85C",
		Amount:                big.NewInt(1000),
		Nonce:                 nonce,
		Bid:                   types.ServiceNodeBid{Fee: big.NewInt(1)},
		Status:                types.StatusAccepted,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestStoreCreateAndFindTransfer(t *testing.T) {
	pool, _ := newTestPool(t)
	s := NewStore(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	rec := newTestRecord("0xAbC0000000000000000000000000000000000001", 1)
	require.NoError(t, s.CreateTransfer(ctx, rec))

	found, err := s.FindTransfer(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, types.StatusAccepted, found.Status)
	assert.Equal(t, 0, rec.Amount.Cmp(found.Amount))

	_, err = s.FindTransfer(ctx, uuid.New())
	assert.ErrorIs(t, err, types.ErrTransferNotFound)
}

func TestStoreSenderNonceUnique(t *testing.T) {
	pool, _ := newTestPool(t)
	s := NewStore(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	require.NoError(t, s.CreateTransfer(ctx, newTestRecord("0xAbC0000000000000000000000000000000000001", 1)))

	// addresses compare case-insensitively
	err := s.CreateTransfer(ctx, newTestRecord("0xabc0000000000000000000000000000000000001", 1))
	assert.ErrorIs(t, err, types.ErrSenderNonceNotUnique)

	require.NoError(t, s.CreateTransfer(ctx, newTestRecord("0xAbC0000000000000000000000000000000000001", 2)))

	other := newTestRecord("0xAbC0000000000000000000000000000000000001", 1)
	other.SourceBlockchain = types.Polygon
	require.NoError(t, s.CreateTransfer(ctx, other))
}

func TestStoreConcurrentCreateSameNonce(t *testing.T) {
	pool, _ := newTestPool(t)
	s := NewStore(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CreateTransfer(ctx, newTestRecord("0xAbC0000000000000000000000000000000000001", 9)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestStoreUpdateTransfer(t *testing.T) {
	pool, _ := newTestPool(t)
	s := NewStore(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	rec := newTestRecord("0xAbC0000000000000000000000000000000000001", 1)
	require.NoError(t, s.CreateTransfer(ctx, rec))

	txID := "0x01"
	submittedAt := time.Now().UTC()
	updated, err := s.UpdateTransfer(ctx, rec.ID, types.TransferUpdate{
		Status:        types.StatusSourceTransactionSubmitted,
		TransactionID: &txID,
		SubmittedAt:   &submittedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSourceTransactionSubmitted, updated.Status)
	assert.Equal(t, txID, updated.TransactionID)

	transferID := uint64(10512)
	_, err = s.UpdateTransfer(ctx, rec.ID, types.TransferUpdate{
		Status:            types.StatusSourceTransactionConfirmed,
		OnChainTransferID: &transferID,
	})
	require.NoError(t, err)

	_, err = s.UpdateTransfer(ctx, rec.ID, types.TransferUpdate{Status: types.StatusSourceTransactionSubmitted})
	assert.ErrorIs(t, err, types.ErrStatusRegression)

	found, err := s.FindTransfer(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSourceTransactionConfirmed, found.Status)
	require.NotNil(t, found.OnChainTransferID)
	assert.Equal(t, transferID, *found.OnChainTransferID)
	assert.Equal(t, txID, found.TransactionID)
}

func TestStoreFailedTransferReleasesNonce(t *testing.T) {
	pool, _ := newTestPool(t)
	s := NewStore(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	rec := newTestRecord("0xAbC0000000000000000000000000000000000001", 1)
	require.NoError(t, s.CreateTransfer(ctx, rec))
	_, err := s.UpdateTransfer(ctx, rec.ID, types.TransferUpdate{Status: types.StatusFailed})
	require.NoError(t, err)

	active, err := s.IsSenderNonceActive(ctx, types.Ethereum, "0xAbC0000000000000000000000000000000000001", 1)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, s.CreateTransfer(ctx, newTestRecord("0xAbC0000000000000000000000000000000000001", 1)))
	active, err = s.IsSenderNonceActive(ctx, types.Ethereum, "0xabc0000000000000000000000000000000000001", 1)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestStoreSubmissions(t *testing.T) {
	pool, _ := newTestPool(t)
	s := NewStore(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()
	id := uuid.New()

	subs, err := s.Submissions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, subs)

	require.NoError(t, s.AddSubmission(ctx, types.TransactionSubmission{InternalTransactionID: id, TransactionID: "0x01", AccountNonce: 4}))
	require.NoError(t, s.AddSubmission(ctx, types.TransactionSubmission{InternalTransactionID: id, TransactionID: "0x02", AccountNonce: 4}))

	subs, err = s.Submissions(ctx, id)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "0x01", subs[0].TransactionID)
	assert.Equal(t, "0x02", subs[1].TransactionID)
}

func TestQueueDequeueAndAck(t *testing.T) {
	pool, _ := newTestPool(t)
	q := NewQueue(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	due := queue.NewTask(queue.Transfers, queue.KindSubmitTransfer, uuid.New(), time.Now().Add(-time.Second))
	later := queue.NewTask(queue.Transfers, queue.KindConfirmTransfer, uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, q.Enqueue(ctx, later))
	require.NoError(t, q.Enqueue(ctx, due))

	task, err := q.Dequeue(ctx, queue.Transfers)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, due.ID, task.ID)
	assert.Equal(t, due.InternalTransactionID, task.InternalTransactionID)

	task2, err := q.Dequeue(ctx, queue.Transfers)
	require.NoError(t, err)
	assert.Nil(t, task2)

	require.NoError(t, q.Ack(ctx, task))
	n, err := q.Recover(ctx, queue.Transfers)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueueRecoverLeavesLiveClaims(t *testing.T) {
	pool, _ := newTestPool(t)
	q := NewQueue(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	task := queue.NewTask(queue.Transactions, queue.KindResubmitTransaction, uuid.New(), time.Now())
	require.NoError(t, q.Enqueue(ctx, task))
	claimed, err := q.Dequeue(ctx, queue.Transactions)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := q.Recover(ctx, queue.Transactions)
	require.NoError(t, err)
	assert.Zero(t, n)

	again, err := q.Dequeue(ctx, queue.Transactions)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueueRecoverExpiredClaims(t *testing.T) {
	pool, _ := newTestPool(t)
	q := NewQueue(pool, logrus.NewEntry(logrus.New())).WithLease(10 * time.Millisecond)
	ctx := context.Background()

	task := queue.NewTask(queue.Transactions, queue.KindResubmitTransaction, uuid.New(), time.Now())
	require.NoError(t, q.Enqueue(ctx, task))
	claimed, err := q.Dequeue(ctx, queue.Transactions)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	time.Sleep(20 * time.Millisecond)
	n, err := q.Recover(ctx, queue.Transactions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a late acknowledgement of the expired claim keeps the recovered task
	require.NoError(t, q.Ack(ctx, claimed))

	again, err := q.Dequeue(ctx, queue.Transactions)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, task.InternalTransactionID, again.InternalTransactionID)
}

func TestQueueDiscardBefore(t *testing.T) {
	pool, _ := newTestPool(t)
	q := NewQueue(pool, logrus.NewEntry(logrus.New()))
	ctx := context.Background()
	start := time.Now()

	stale := queue.NewTask(queue.Bids, queue.KindRefreshBids, uuid.Nil, start)
	stale.EnqueuedAt = start.Add(-time.Minute)
	fresh := queue.NewTask(queue.Bids, queue.KindRefreshBids, uuid.Nil, start)
	fresh.EnqueuedAt = start.Add(time.Second)
	require.NoError(t, q.Enqueue(ctx, stale))
	require.NoError(t, q.Enqueue(ctx, fresh))

	n, err := q.DiscardBefore(ctx, queue.Bids, start)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := q.Dequeue(ctx, queue.Bids)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, fresh.ID, task.ID)
}
