package bids

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vsnbridge/blockchains"
	"vsnbridge/config"
	"vsnbridge/queue"
	"vsnbridge/types"

	"github.com/sirupsen/logrus"
)

// Policy decides whether a bid attached to a transfer request is accepted.
type Policy interface {
	Accepts(bid types.ServiceNodeBid) bool
}

type route struct {
	source      types.Blockchain
	destination types.Blockchain
}

type offer struct {
	route
	fee           *big.Int
	executionTime uint64
}

// Book issues signed bids for the configured offers and remembers them
// until they expire.
type Book struct {
	offers   []offer
	validity time.Duration
	registry *blockchains.Registry
	logger   *logrus.Entry
	now      func() time.Time

	mu     sync.RWMutex
	issued map[route][]types.ServiceNodeBid
}

var _ Policy = (*Book)(nil)

func parseOffers(cfg *config.Configuration) ([]offer, error) {
	byKey := make(map[string]types.Blockchain)
	for _, b := range types.Blockchains() {
		byKey[b.Key()] = b
	}

	offers := make([]offer, 0, len(cfg.Bids.Offers))
	for _, o := range cfg.Bids.Offers {
		source, ok := byKey[o.Source]
		if !ok {
			return nil, fmt.Errorf("unknown source blockchain %q", o.Source)
		}
		destination, ok := byKey[o.Destination]
		if !ok {
			return nil, fmt.Errorf("unknown destination blockchain %q", o.Destination)
		}
		fee, ok := new(big.Int).SetString(o.Fee, 10)
		if !ok || fee.Sign() < 0 {
			return nil, fmt.Errorf("invalid fee %q for %s->%s", o.Fee, o.Source, o.Destination)
		}
		offers = append(offers, offer{
			route:         route{source: source, destination: destination},
			fee:           fee,
			executionTime: o.ExecutionTime,
		})
	}
	return offers, nil
}

func NewBook(cfg *config.Configuration, registry *blockchains.Registry, logger *logrus.Entry) (*Book, error) {
	if cfg.Bids.Validity < config.MinBidValidity {
		return nil, fmt.Errorf("bid validity %s is shorter than %s", cfg.Bids.Validity, config.MinBidValidity)
	}
	offers, err := parseOffers(cfg)
	if err != nil {
		return nil, err
	}
	return &Book{
		offers:   offers,
		validity: cfg.Bids.Validity,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		issued:   make(map[route][]types.ServiceNodeBid),
	}, nil
}

// Validity is how long an issued bid stays valid.
func (b *Book) Validity() time.Duration {
	return b.validity
}

// Refresh issues a new bid for every offer whose source blockchain has a
// client and forgets expired bids.
func (b *Book) Refresh(ctx context.Context) error {
	now := b.now()
	validUntil := now.Add(b.validity).Unix()

	fresh := make(map[route][]types.ServiceNodeBid)
	for _, o := range b.offers {
		client, ok := b.registry.Client(o.source)
		if !ok {
			continue
		}
		bid := types.ServiceNodeBid{
			SourceBlockchain:      o.source,
			DestinationBlockchain: o.destination,
			Fee:                   new(big.Int).Set(o.fee),
			ExecutionTime:         o.executionTime,
			ValidUntil:            validUntil,
		}
		signature, err := client.SignBid(bid)
		if err != nil {
			return fmt.Errorf("cannot sign bid %s->%s: %w", o.source, o.destination, err)
		}
		bid.Signature = signature
		fresh[o.route] = append(fresh[o.route], bid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for r, list := range b.issued {
		for _, bid := range list {
			if bid.IsValidAt(now) {
				fresh[r] = append(fresh[r], bid)
			}
		}
	}
	b.issued = fresh
	b.logger.Debugf("Bids refreshed for %d routes", len(fresh))
	return nil
}

// CurrentBids returns the newest still valid bid of every offer for the
// route.
func (b *Book) CurrentBids(source, destination types.Blockchain) []types.ServiceNodeBid {
	now := b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	// issued lists start with the bids of the latest refresh
	count := 0
	for _, o := range b.offers {
		if o.source == source && o.destination == destination {
			count++
		}
	}
	list := make([]types.ServiceNodeBid, 0, count)
	for _, bid := range b.issued[route{source: source, destination: destination}] {
		if len(list) == count {
			break
		}
		if bid.IsValidAt(now) {
			list = append(list, bid)
		}
	}
	return list
}

// Accepts reports whether bid was issued by this node and is still valid.
func (b *Book) Accepts(bid types.ServiceNodeBid) bool {
	if !bid.IsValidAt(b.now()) || bid.Fee == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, issued := range b.issued[route{source: bid.SourceBlockchain, destination: bid.DestinationBlockchain}] {
		if issued.ValidUntil == bid.ValidUntil &&
			issued.ExecutionTime == bid.ExecutionTime &&
			issued.Fee.Cmp(bid.Fee) == 0 &&
			issued.Signature == bid.Signature {
			return true
		}
	}
	return false
}

// refreshInterval leaves every issued bid valid for at least half its
// validity after it was replaced.
func (b *Book) refreshInterval() time.Duration {
	return b.validity / 2
}

// Handle runs the recurring bid refresh task of the bids queue.
func (b *Book) Handle(ctx context.Context, task *queue.Task) (*queue.Task, error) {
	if task.Kind != queue.KindRefreshBids {
		return nil, fmt.Errorf("%w: %s on %s", queue.ErrUnknownTask, task.Kind, task.Queue)
	}
	if err := b.Refresh(ctx); err != nil {
		b.logger.Errorf("Error refreshing bids: %s", err.Error())
	}
	return task.Next(queue.Bids, queue.KindRefreshBids, b.now().Add(b.refreshInterval())), nil
}
