package main

import (
	"context"
	"fmt"
	"time"

	"vsnbridge/bids"
	"vsnbridge/blockchains"
	"vsnbridge/config"
	"vsnbridge/database"
	"vsnbridge/metrics"
	"vsnbridge/queue"
	"vsnbridge/redis"
	"vsnbridge/transfers"
	"vsnbridge/workers"
	"vsnbridge/workers/handlers"

	redigo "github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// node wires the stores, the queue and the blockchain clients of one
// service node process.
type node struct {
	cfg    *config.Configuration
	logger *logrus.Entry

	store      transfers.Store
	queue      queue.Queue
	registry   *blockchains.Registry
	book       *bids.Book
	interactor *transfers.Interactor
	engine     *transfers.Engine

	closers []func()
}

func newNode(ctx context.Context, cfg *config.Configuration, logger *logrus.Entry) (*node, error) {
	n := &node{cfg: cfg, logger: logger}

	var pool *redigo.Pool
	redisPool := func() *redigo.Pool {
		if pool == nil {
			pool = redis.NewPool(cfg)
			n.closers = append(n.closers, func() { pool.Close() })
		}
		return pool
	}

	switch cfg.Store {
	case "redis":
		store := redis.NewStore(redisPool(), logger.WithField("component", "store"))
		// without persistence do not continue
		if err := store.Ping(ctx); err != nil {
			n.Close()
			return nil, fmt.Errorf("cannot connect to redis: %w", err)
		}
		n.store = store
	case "database":
		db, err := database.Open(cfg)
		if err != nil {
			n.Close()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			n.closers = append(n.closers, func() { sqlDB.Close() })
		}
		n.store = database.NewStore(db, logger.WithField("component", "store"))
	}

	switch cfg.Queue.Backend {
	case "redis":
		n.queue = redis.NewQueue(redisPool(), logger.WithField("component", "queue")).WithLease(cfg.Queue.ClaimLease)
	case "memory":
		n.queue = queue.NewMemory().WithLease(cfg.Queue.ClaimLease)
	}

	registry, err := blockchains.NewRegistry(cfg, n.store, logger)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.registry = registry
	n.closers = append(n.closers, registry.Close)

	book, err := bids.NewBook(cfg, registry, logger.WithField("component", "bids"))
	if err != nil {
		n.Close()
		return nil, err
	}
	n.book = book
	n.interactor = transfers.NewInteractor(n.store, n.queue, registry, book, logger.WithField("component", "transfers"))
	n.engine = transfers.NewEngine(cfg.Engine, n.store, registry, logger.WithField("component", "engine"))
	return n, nil
}

func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
}

// pool registers the transfer consumers, and the bid refresh when withBids
// is set.
func (n *node) pool(withBids bool) *workers.Pool {
	p := workers.NewPool(n.queue, n.cfg.Queue.PollInterval, n.logger.WithField("component", "workers"))
	p.Register(queue.Transfers, n.engine, n.cfg.Queue.Workers.Transfers)
	p.Register(queue.Transactions, n.engine, n.cfg.Queue.Workers.Transactions)
	if withBids {
		p.Register(queue.Bids, n.book, n.cfg.Queue.Workers.Bids)
	}
	return p
}

// recoverClaims hands out again the transfer tasks whose claim lease ran out,
// left behind by a process that stopped without acknowledging them.
func (n *node) recoverClaims(ctx context.Context) error {
	for _, name := range []string{queue.Transfers, queue.Transactions} {
		recovered, err := n.queue.Recover(ctx, name)
		if err != nil {
			return fmt.Errorf("cannot recover queue %s: %w", name, err)
		}
		if recovered > 0 {
			n.logger.Infof("Recovered %d unacknowledged tasks on %s", recovered, name)
		}
	}
	return nil
}

// run serves the API and consumes every queue. Stale bid work is discarded
// before any worker starts.
func (n *node) run(ctx context.Context, processStart time.Time) error {
	if err := n.recoverClaims(ctx); err != nil {
		return err
	}
	if err := bids.NewGate(n.queue, n.logger.WithField("component", "bids")).Open(ctx, processStart); err != nil {
		return fmt.Errorf("cannot open bids queue: %w", err)
	}

	h := handlers.New(n.interactor, n.book, n.registry, n.logger.WithField("component", "api"))
	router := workers.NewRouter(h, metrics.Default())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.pool(true).Run(ctx) })
	g.Go(func() error { return workers.ServeHTTP(ctx, n.cfg, router, n.logger.WithField("component", "http")) })
	return g.Wait()
}

// work only consumes the transfer queues, for scaling out submission and
// confirmation next to a single run process.
func (n *node) work(ctx context.Context) error {
	if err := n.recoverClaims(ctx); err != nil {
		return err
	}
	return n.pool(false).Run(ctx)
}
