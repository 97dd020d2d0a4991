// Package lookup implements the iterative node lookup that underlies every
// FIND_NODE and FIND_VALUE operation: ALPHA-bounded rounds of parallel
// queries against the closest known contacts, converging on the K nodes
// closest to a target ID (or short-circuiting on a value hit).
package lookup

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/logging"
	"github.com/kadhash/dht/internal/network"
)

// Mode selects what a lookup is trying to achieve.
type Mode int

const (
	// ModeNodes runs to convergence on the K closest nodes to the target.
	ModeNodes Mode = iota
	// ModeValue also stops early the first time any queried node returns
	// a value for the target key.
	ModeValue
)

// Result is what a completed lookup produced.
type Result struct {
	// Contacts is the K closest nodes found, ascending by distance to
	// target: the shortlist entries that have responded. Set on a value hit
	// too (the responded entries at that point); empty if none responded.
	Contacts []network.Contact
	// Found and Value are set only for ModeValue lookups that hit.
	Found bool
	Value string
}

// Querier issues the three outbound RPCs a lookup round needs. Looking
// up a value from a remote peer and looking up nodes are kept as distinct
// methods because their result shapes differ (FIND_VALUE can short-circuit
// with a value instead of a node list).
type Querier interface {
	FindNode(ctx context.Context, peer network.Contact, target idkey.ID) ([]network.Contact, error)
	FindValue(ctx context.Context, peer network.Contact, target idkey.ID) (value string, found bool, nodes []network.Contact, err error)
	Store(ctx context.Context, peer network.Contact, key idkey.ID, value string) error
}

// Table is the subset of *network.RoutingTable a lookup needs: a seed set
// of close contacts to start from, and a way to fold newly-seen contacts
// back in so every successful response refreshes routing state.
type Table interface {
	Closest(target idkey.ID, n int) []network.Contact
	Update(ctx context.Context, c network.Contact) error
	Self() idkey.ID
}

// Engine runs iterative lookups against a Querier, seeded from a Table.
type Engine struct {
	querier Querier
	table   Table
	log     logging.Logger

	alpha int
	k     int
}

// New builds a lookup Engine. alpha bounds per-round query fanout, k bounds
// the shortlist and the size of the final result set.
func New(querier Querier, table Table, alpha, k int, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop
	}
	return &Engine{querier: querier, table: table, log: log, alpha: alpha, k: k}
}

// roundResult is one queried contact's outcome, fed back to the driving
// goroutine over a channel so rounds can fan out without a shared lock on
// the shortlist.
type roundResult struct {
	peer    network.Contact
	nodes   []network.Contact
	value   string
	found   bool
	err     error
}

// Lookup runs the iterative algorithm for target in the given mode. It
// seeds the shortlist from the routing table's own K closest contacts, then
// drives ALPHA-bounded rounds of parallel queries until one of the two
// termination conditions holds: no improvement in the closest known
// contact across a full round once K have responded, or no contact left
// that is either unqueried or still pending.
func (e *Engine) Lookup(ctx context.Context, target idkey.ID, mode Mode) (Result, error) {
	seed := e.table.Closest(target, e.k)
	sl := newShortlist(target, e.k, seed)

	closestSoFar, haveClosest := sl.closestUnfailed()
	cachePeer, haveCachePeer := network.Contact{}, false

	for {
		if ctx.Err() != nil {
			return e.finish(sl, mode, "", false), ctx.Err()
		}

		batch := sl.selectForRound(e.alpha)
		if len(batch) == 0 {
			if sl.hasPending() {
				// Another goroutine's round is still resolving (shouldn't
				// happen with the single-driver loop below, but guards
				// against a stalled round).
				continue
			}
			break
		}

		results := e.runRound(ctx, batch, target, mode)

		improved := false
		for _, r := range results {
			if r.err != nil {
				sl.markFailed(r.peer.NodeID)
				continue
			}
			sl.markResponded(r.peer.NodeID)
			_ = e.table.Update(ctx, r.peer)

			if mode == ModeValue && r.found {
				// Cache the value at the closest node we queried that did
				// not have it: remember the closest miss seen so far (earlier
				// rounds and earlier results of this round), and store there
				// now that we have a hit.
				if haveCachePeer {
					go e.querier.Store(context.Background(), cachePeer, target, r.value)
				}
				return e.finish(sl, mode, r.value, true), nil
			}
			if mode == ModeValue && !r.found {
				if !haveCachePeer || idkey.Distance(target, r.peer.NodeID).Less(idkey.Distance(target, cachePeer.NodeID)) {
					cachePeer, haveCachePeer = r.peer, true
				}
			}

			for _, n := range r.nodes {
				if n.NodeID == e.table.Self() {
					continue
				}
				sl.insert(n)
			}
		}

		sl.pruneFailed()
		sl.sortAndTruncate()

		if c, ok := sl.closestUnfailed(); ok {
			if !haveClosest || idkey.Distance(target, c.NodeID).Less(idkey.Distance(target, closestSoFar.NodeID)) {
				closestSoFar, haveClosest = c, true
				improved = true
			}
		}

		if !improved && sl.respondedCount() >= e.k {
			break
		}
		if !sl.hasUnqueried() && !sl.hasPending() {
			break
		}
	}

	return e.finish(sl, mode, "", false), nil
}

// runRound fires off concurrent queries bounded by the engine's alpha and
// collects every result before returning, so the driving loop above only
// ever touches the shortlist between rounds.
func (e *Engine) runRound(ctx context.Context, batch []network.Contact, target idkey.ID, mode Mode) []roundResult {
	sem := semaphore.NewWeighted(int64(e.alpha))
	results := make([]roundResult, len(batch))
	var wg sync.WaitGroup

	for i, peer := range batch {
		i, peer := i, peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = roundResult{peer: peer, err: err}
				return
			}
			defer sem.Release(1)
			results[i] = e.query(ctx, peer, target, mode)
		}()
	}
	wg.Wait()
	return results
}

func (e *Engine) query(ctx context.Context, peer network.Contact, target idkey.ID, mode Mode) roundResult {
	if mode == ModeValue {
		value, found, nodes, err := e.querier.FindValue(ctx, peer, target)
		if err != nil {
			e.log.Debug("lookup query failed", logging.F("peer", peer.NodeID.String()), logging.F("err", err.Error()))
		}
		return roundResult{peer: peer, value: value, found: found, nodes: nodes, err: err}
	}
	nodes, err := e.querier.FindNode(ctx, peer, target)
	if err != nil {
		e.log.Debug("lookup query failed", logging.F("peer", peer.NodeID.String()), logging.F("err", err.Error()))
	}
	return roundResult{peer: peer, nodes: nodes, err: err}
}

func (e *Engine) finish(sl *shortlist, mode Mode, value string, found bool) Result {
	return Result{
		Contacts: sl.respondedContacts(),
		Found:    mode == ModeValue && found,
		Value:    value,
	}
}
