package network

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kadhash/dht/internal/idkey"
)

// ErrSelf is returned when a caller tries to add the node's own contact to
// its own routing table.
var ErrSelf = errors.New("network: cannot add self to routing table")

// Pinger probes a contact for liveness, with the same timeout semantics as
// any other outgoing RPC. It is the liveness primitive the eviction policy
// in Update needs; supplying it separately keeps the routing table itself
// free of any notion of RPCs.
type Pinger interface {
	Ping(ctx context.Context, c Contact) error
}

// RoutingTable holds the B buckets of a node's view of the network, indexed
// by bit position relative to that node's own identifier. A contact appears
// in at most one bucket, and which one is entirely determined by its
// XOR-distance to self -- this is the flat-array reading of the Kademlia
// paper's k-bucket table, not a dynamically-splitting prefix tree.
type RoutingTable struct {
	self    idkey.ID
	buckets [idkey.Bits]*bucket
	mu      sync.RWMutex
	clk     clock.Clock
	pinger  Pinger
}

// New creates a routing table for a node with the given identifier. The
// pinger is used by Update's liveness-before-eviction policy; it may be
// nil during construction and set later with SetPinger (the pinger
// typically needs the routing table itself to exist first).
func New(self idkey.ID, clk clock.Clock, pinger Pinger) *RoutingTable {
	rt := &RoutingTable{self: self, clk: clk, pinger: pinger}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket()
	}
	return rt
}

// SetPinger wires the liveness prober used when a bucket is full.
func (rt *RoutingTable) SetPinger(p Pinger) {
	rt.mu.Lock()
	rt.pinger = p
	rt.mu.Unlock()
}

// Self returns this routing table's own identifier.
func (rt *RoutingTable) Self() idkey.ID {
	return rt.self
}

// Update applies add directly unless the target bucket is full and the
// contact is not already present, in which case the head (oldest
// reliable) is pinged before anything is evicted.
func (rt *RoutingTable) Update(ctx context.Context, c Contact) error {
	if c.NodeID == rt.self {
		return ErrSelf
	}
	idx, ok := idkey.BucketIndex(rt.self, c.NodeID)
	if !ok {
		return ErrSelf
	}

	rt.mu.Lock()
	b := rt.buckets[idx]
	if !b.isFull() || b.has(c.NodeID) {
		b.add(c, rt.clk)
		rt.mu.Unlock()
		return nil
	}
	head, hasHead := b.head()
	pinger := rt.pinger
	rt.mu.Unlock()

	if !hasHead || pinger == nil {
		// No eviction candidate or no way to probe it: the new contact is
		// simply dropped and the bucket is left unchanged.
		return nil
	}

	pingErr := pinger.Ping(ctx, head)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if pingErr == nil {
		// Head answered: discard the newcomer, refresh the head to the tail.
		b.moveToTail(head.NodeID, rt.clk)
		return nil
	}
	// Head failed to respond: evict it, append the new contact.
	b.remove(head.NodeID)
	b.add(c, rt.clk)
	return nil
}

// Remove drops a contact from whichever bucket it lives in, if any.
func (rt *RoutingTable) Remove(id idkey.ID) {
	idx, ok := idkey.BucketIndex(rt.self, id)
	if !ok {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.buckets[idx].remove(id)
}

// contactDistance pairs a contact with its precomputed distance to some
// target, so Closest only has to compare, never recompute, while sorting.
type contactDistance struct {
	contact  Contact
	distance idkey.ID
}

// Closest returns the up-to-n contacts with smallest XOR distance to
// target, scanning outward from target's own bucket index so partial
// results already arrive roughly sorted before the final exact sort.
func (rt *RoutingTable) Closest(target idkey.ID, n int) []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	startIdx, ok := idkey.BucketIndex(rt.self, target)
	if !ok {
		startIdx = 0
	}

	candidates := make([]contactDistance, 0, n*2)
	collect := func(idx int) {
		if idx < 0 || idx >= idkey.Bits {
			return
		}
		for _, c := range rt.buckets[idx].contacts() {
			candidates = append(candidates, contactDistance{
				contact:  c,
				distance: idkey.Distance(target, c.NodeID),
			})
		}
	}

	collect(startIdx)
	for offset := 1; startIdx-offset >= 0 || startIdx+offset < idkey.Bits; offset++ {
		collect(startIdx - offset)
		collect(startIdx + offset)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].distance.Less(candidates[j].distance)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]Contact, len(candidates))
	for i, cd := range candidates {
		out[i] = cd.contact
	}
	return out
}

// NonEmptyBucketIndices returns the indices of every non-empty bucket;
// ordering is not guaranteed, callers that need it sort the result
// themselves (join's bucket refresh does).
func (rt *RoutingTable) NonEmptyBucketIndices() []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []int
	for i, b := range rt.buckets {
		if b.len() > 0 {
			out = append(out, i)
		}
	}
	return out
}

// Size returns the total number of contacts known across every bucket.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	total := 0
	for _, b := range rt.buckets {
		total += b.len()
	}
	return total
}

// BucketIndexOf exposes idkey.BucketIndex relative to this table's own
// identifier.
func (rt *RoutingTable) BucketIndexOf(id idkey.ID) (int, bool) {
	return idkey.BucketIndex(rt.self, id)
}

// defaultPingTimeout bounds how long Update waits on a liveness probe
// before treating the head as unreachable; callers issuing the context
// themselves may choose a different deadline.
const defaultPingTimeout = 5 * time.Second

// UpdateWithTimeout is a convenience wrapper applying defaultPingTimeout.
func (rt *RoutingTable) UpdateWithTimeout(c Contact) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	return rt.Update(ctx, c)
}
