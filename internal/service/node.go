// Package service assembles the routing table, RPC handlers, lookup engine
// and maintenance scheduler into the node's public API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/logging"
	"github.com/kadhash/dht/internal/lookup"
	"github.com/kadhash/dht/internal/network"
	"github.com/kadhash/dht/internal/rpcmsg"
	"github.com/kadhash/dht/internal/storage"
	"github.com/kadhash/dht/internal/validate"
)

// Defaults for the tunables a Node can be configured with.
const (
	DefaultK                 = network.K
	DefaultAlpha             = 3
	DefaultRPCTimeout        = rpcmsg.DefaultTimeout
	DefaultReplicateInterval = time.Hour
	DefaultRepublishInterval = 24 * time.Hour
	DefaultExpireInterval    = 24 * time.Hour
)

// ErrNotFound is returned by Get when a value lookup fails to locate the
// key anywhere in the network.
var ErrNotFound = errors.New("service: value not found")

// Config is everything needed to construct a Node. Transport, Storage,
// Validator and Logger are the pluggable external collaborators; only
// Transport and Storage are required.
type Config struct {
	Self    idkey.ID
	Address string
	Port    uint32

	Transport rpcmsg.Transport
	Storage   storage.Storage
	Validator validate.Validator
	Logger    logging.Logger
	Clock     clock.Clock

	K                 int
	Alpha             int
	RPCTimeout        time.Duration
	ReplicateInterval time.Duration
	RepublishInterval time.Duration
	ExpireInterval    time.Duration
}

func (c *Config) setDefaults() {
	if c.K == 0 {
		c.K = DefaultK
	}
	if c.Alpha == 0 {
		c.Alpha = DefaultAlpha
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.ReplicateInterval == 0 {
		c.ReplicateInterval = DefaultReplicateInterval
	}
	if c.RepublishInterval == 0 {
		c.RepublishInterval = DefaultRepublishInterval
	}
	if c.ExpireInterval == 0 {
		c.ExpireInterval = DefaultExpireInterval
	}
	if c.Logger == nil {
		c.Logger = logging.Nop
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Validator == nil {
		c.Validator = validate.AcceptAll
	}
}

// Node is a single Kademlia participant: its own identity, a routing table,
// a storage handle, the RPC client dispatching the four methods, the
// iterative lookup engine, and the background maintenance scheduler.
type Node struct {
	self      network.Contact
	k         int
	alpha     int
	storage   storage.Storage
	validator validate.Validator
	log       logging.Logger
	clock     clock.Clock

	routingTable *network.RoutingTable
	client       *rpcmsg.Client
	querier      *rpcQuerier
	lookupEngine *lookup.Engine
	scheduler    *Scheduler
}

// New constructs a Node and starts its RPC dispatch loop and maintenance
// scheduler. The caller is responsible for calling Close when done.
func New(cfg Config) (*Node, error) {
	cfg.setDefaults()
	if cfg.Transport == nil {
		return nil, errors.New("service: Transport is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("service: Storage is required")
	}

	self := network.Contact{NodeID: cfg.Self, Address: cfg.Address, Port: cfg.Port}

	n := &Node{
		self:      self,
		k:         cfg.K,
		alpha:     cfg.Alpha,
		storage:   cfg.Storage,
		validator: cfg.Validator,
		log:       cfg.Logger,
		clock:     cfg.Clock,
	}

	n.routingTable = network.New(cfg.Self, cfg.Clock, nil)
	n.querier = newRPCQuerier(nil, self, cfg.RPCTimeout)
	n.routingTable.SetPinger(n.querier)

	n.client = rpcmsg.NewClient(cfg.Transport, &nodeHandler{node: n})
	n.querier.client = n.client

	n.lookupEngine = lookup.New(n.querier, n.routingTable, n.alpha, n.k, n.log)
	n.scheduler = newScheduler(n, cfg.ReplicateInterval, cfg.RepublishInterval, cfg.ExpireInterval)
	n.scheduler.Start()

	return n, nil
}

// Self returns the node's own contact.
func (n *Node) Self() network.Contact {
	return n.self
}

// RoutingTable exposes the node's routing table, for the REST status
// endpoint and for tests.
func (n *Node) RoutingTable() *network.RoutingTable {
	return n.routingTable
}

// Close stops the maintenance scheduler and the RPC client's underlying
// transport.
func (n *Node) Close() error {
	n.scheduler.Stop()
	return n.client.Close()
}

// Put computes key = ID.from_seed(keySeed), validates the value if a
// validator is configured, runs a nodes lookup on key, and issues STORE to
// each of the resulting K contacts in parallel. It returns the aggregate
// error of every STORE attempt; success does not require unanimity.
func (n *Node) Put(ctx context.Context, keySeed []byte, value string) error {
	key := idkey.FromSeed(keySeed)

	if n.validator != nil {
		ok, err := n.validator.Validate(ctx, key, value)
		if err != nil {
			return fmt.Errorf("service: validator error: %w", err)
		}
		if !ok {
			return ErrValueRejected
		}
	}

	return n.putByKey(ctx, key, value)
}

// putByKey runs a nodes lookup on key and issues STORE to each resulting
// contact in parallel, returning the aggregate of every STORE attempt.
// Split out from Put so the maintenance scheduler's replicate/republish
// passes -- which already hold the key, never the original seed -- can
// drive the same fan-out without re-deriving an identifier from nothing.
func (n *Node) putByKey(ctx context.Context, key idkey.ID, value string) error {
	result, err := n.lookupEngine.Lookup(ctx, key, lookup.ModeNodes)
	if err != nil {
		return fmt.Errorf("service: lookup for put: %w", err)
	}

	targets := result.Contacts
	if len(targets) == 0 {
		// No known peers at all: store locally so at least this node holds
		// the record (matches a freshly-joined, still-empty routing table).
		targets = []network.Contact{n.self}
	}

	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(targets))
	for i, peer := range targets {
		i, peer := i, peer
		g.Go(func() error {
			if peer.NodeID == n.self.NodeID {
				record := storage.Record{Value: value, Publisher: n.self.NodeID, Timestamp: n.clock.Now()}
				raw, encErr := record.Encode()
				if encErr != nil {
					errs[i] = encErr
					return nil
				}
				errs[i] = n.storage.Put(gctx, key, raw)
				return nil
			}
			errs[i] = n.querier.Store(gctx, peer, key, value)
			return nil
		})
	}
	_ = g.Wait()

	return multierr.Combine(errs...)
}

// Get computes key = ID.from_seed(keySeed). It first consults local
// storage; on a miss it runs a value lookup across the network.
func (n *Node) Get(ctx context.Context, keySeed []byte) (string, error) {
	key := idkey.FromSeed(keySeed)

	if raw, err := n.storage.Get(ctx, key); err == nil {
		record, decErr := storage.Decode(raw)
		if decErr != nil {
			return "", fmt.Errorf("service: decode local record: %w", decErr)
		}
		return record.Value, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("service: local storage error: %w", err)
	}

	result, err := n.lookupEngine.Lookup(ctx, key, lookup.ModeValue)
	if err != nil {
		return "", fmt.Errorf("service: lookup for get: %w", err)
	}
	if !result.Found {
		return "", ErrNotFound
	}
	return result.Value, nil
}

// Join inserts seed into the routing table, runs a nodes lookup on this
// node's own identifier to populate nearby buckets, then refreshes every
// non-empty bucket farther from self than the closest discovered neighbor
// by looking up a random key within that bucket's range.
func (n *Node) Join(ctx context.Context, seed network.Contact) error {
	if err := n.routingTable.Update(ctx, seed.Touch(n.clock)); err != nil && !errors.Is(err, network.ErrSelf) {
		return fmt.Errorf("service: join seed: %w", err)
	}

	result, err := n.lookupEngine.Lookup(ctx, n.self.NodeID, lookup.ModeNodes)
	if err != nil {
		return fmt.Errorf("service: join self-lookup: %w", err)
	}

	closestIdx := -1
	for _, c := range result.Contacts {
		if idx, ok := n.routingTable.BucketIndexOf(c.NodeID); ok && idx > closestIdx {
			closestIdx = idx
		}
	}

	indices := n.routingTable.NonEmptyBucketIndices()
	sort.Ints(indices)

	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range indices {
		if idx >= closestIdx {
			continue
		}
		idx := idx
		g.Go(func() error {
			target := idkey.RandomInBucket(n.self.NodeID, idx)
			_, lookupErr := n.lookupEngine.Lookup(gctx, target, lookup.ModeNodes)
			if lookupErr != nil {
				n.log.Warn("bucket refresh failed", logging.F("bucket", idx), logging.F("err", lookupErr.Error()))
			}
			return nil
		})
	}
	return g.Wait()
}
