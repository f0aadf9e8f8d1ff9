package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vsnbridge/config"
	"vsnbridge/types"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// NewPool creates the connection pool shared by Store and Queue.
func NewPool(cfg *config.Configuration) *redis.Pool {
	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	options := append(timeoutDialOptions(), redis.DialDatabase(cfg.Redis.DB))
	if cfg.Redis.Password != "" {
		options = append(options, redis.DialPassword(cfg.Redis.Password))
	}
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, options...) },
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Store keeps transfer records and their submitted transactions in Redis.
type Store struct {
	pool   *redis.Pool
	logger *logrus.Entry
}

func NewStore(pool *redis.Pool, logger *logrus.Entry) *Store {
	return &Store{pool: pool, logger: logger}
}

func transferKey(id uuid.UUID) string {
	return fmt.Sprintf("transfer:%s", id)
}

func submissionsKey(id uuid.UUID) string {
	return fmt.Sprintf("submissions:%s", id)
}

// the same sender may reuse a nonce on another source chain
func nonceKey(blockchain types.Blockchain, sender string, nonce uint64) string {
	return fmt.Sprintf("nonce:%d:%s:%d", uint8(blockchain), strings.ToLower(sender), nonce)
}

// claims the sender nonce and stores the record in one step
var createTransferScript = redis.NewScript(2, `
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

func (s *Store) CreateTransfer(ctx context.Context, rec *types.TransferRecord) error {
	if rec == nil {
		return errors.New("null object to store")
	}
	if rec.Status == "" {
		return errors.New("transfer cannot have empty status")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cannot marshal transfer to JSON: %s", err.Error())
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	created, err := redis.Int(createTransferScript.Do(conn,
		nonceKey(rec.SourceBlockchain, rec.SenderAddress, rec.Nonce), transferKey(rec.ID),
		rec.ID.String(), recJSON))
	if err != nil {
		s.logger.Errorf("error Redis create transfer: %s", err.Error())
		return err
	}
	if created == 0 {
		return types.ErrSenderNonceNotUnique
	}
	return nil
}

func (s *Store) FindTransfer(ctx context.Context, id uuid.UUID) (*types.TransferRecord, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return s.getTransfer(conn, id)
}

func (s *Store) getTransfer(conn redis.Conn, id uuid.UUID) (*types.TransferRecord, error) {
	recJSON, err := redis.Bytes(conn.Do("GET", transferKey(id)))
	if errors.Is(err, redis.ErrNil) {
		return nil, types.ErrTransferNotFound
	}
	if err != nil {
		s.logger.Errorf("error Redis GET: %s", err.Error())
		return nil, err
	}

	var rec types.TransferRecord
	if err := json.Unmarshal(recJSON, &rec); err != nil {
		return nil, fmt.Errorf("cannot unmarshal transfer %s: %w", id, err)
	}
	return &rec, nil
}

const maxUpdateRetries = 5

// UpdateTransfer applies upd if the status transition is allowed. The record
// is watched so that a concurrent writer makes the update start over.
func (s *Store) UpdateTransfer(ctx context.Context, id uuid.UUID, upd types.TransferUpdate) (*types.TransferRecord, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	for i := 0; i < maxUpdateRetries; i++ {
		if _, err := conn.Do("WATCH", transferKey(id)); err != nil {
			return nil, err
		}
		rec, err := s.getTransfer(conn, id)
		if err != nil {
			conn.Do("UNWATCH")
			return nil, err
		}
		if !rec.Status.CanTransitionTo(upd.Status) {
			conn.Do("UNWATCH")
			return nil, fmt.Errorf("%w: %s to %s", types.ErrStatusRegression, rec.Status, upd.Status)
		}
		upd.Apply(rec, time.Now().UTC())
		recJSON, err := json.Marshal(rec)
		if err != nil {
			conn.Do("UNWATCH")
			return nil, fmt.Errorf("cannot marshal transfer to JSON: %s", err.Error())
		}

		conn.Send("MULTI")
		conn.Send("SET", transferKey(id), recJSON)
		if upd.Status.ReleasesNonce() {
			conn.Send("DEL", nonceKey(rec.SourceBlockchain, rec.SenderAddress, rec.Nonce))
		}
		_, err = redis.Values(conn.Do("EXEC"))
		if errors.Is(err, redis.ErrNil) {
			// the record changed since WATCH
			continue
		}
		if err != nil {
			s.logger.Errorf("error Redis EXEC: %s", err.Error())
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("transfer %s: too many concurrent updates", id)
}

func (s *Store) AddSubmission(ctx context.Context, sub types.TransactionSubmission) error {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("cannot marshal submission to JSON: %s", err.Error())
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("RPUSH", submissionsKey(sub.InternalTransactionID), subJSON); err != nil {
		s.logger.Errorf("error Redis RPUSH: %s", err.Error())
		return err
	}
	return nil
}

func (s *Store) Submissions(ctx context.Context, id uuid.UUID) ([]types.TransactionSubmission, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	values, err := redis.ByteSlices(conn.Do("LRANGE", submissionsKey(id), 0, -1))
	if err != nil && !errors.Is(err, redis.ErrNil) {
		s.logger.Errorf("error Redis LRANGE: %s", err.Error())
		return nil, err
	}

	subs := make([]types.TransactionSubmission, 0, len(values))
	for _, value := range values {
		var sub types.TransactionSubmission
		if err := json.Unmarshal(value, &sub); err != nil {
			return nil, fmt.Errorf("cannot unmarshal submission of %s: %w", id, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

// IsSenderNonceActive reports whether a transfer that has not failed holds
// the sender nonce.
func (s *Store) IsSenderNonceActive(ctx context.Context, blockchain types.Blockchain, sender string, nonce uint64) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	return redis.Bool(conn.Do("EXISTS", nonceKey(blockchain, sender, nonce)))
}
