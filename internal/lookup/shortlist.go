package lookup

import (
	"sort"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/network"
)

// state is one shortlist entry's query status.
type state int

const (
	unqueried state = iota
	pending
	responded
	failed
)

type entry struct {
	contact  network.Contact
	distance idkey.ID
	state    state
}

// shortlist is the in-flight lookup's working set: the K closest known
// candidates to target, ordered by ascending distance, each tagged with a
// query state. It has no concurrency control of its own -- the engine only
// ever mutates it from a single goroutine between rounds.
type shortlist struct {
	target  idkey.ID
	k       int
	entries []*entry
	index   map[idkey.ID]*entry
}

func newShortlist(target idkey.ID, k int, seed []network.Contact) *shortlist {
	sl := &shortlist{target: target, k: k, index: make(map[idkey.ID]*entry)}
	for _, c := range seed {
		sl.insert(c)
	}
	sl.sortAndTruncate()
	return sl
}

func (sl *shortlist) insert(c network.Contact) {
	if _, ok := sl.index[c.NodeID]; ok {
		return // no duplicate nodeIDs
	}
	e := &entry{contact: c, distance: idkey.Distance(sl.target, c.NodeID), state: unqueried}
	sl.entries = append(sl.entries, e)
	sl.index[c.NodeID] = e
}

func (sl *shortlist) sortAndTruncate() {
	sort.Slice(sl.entries, func(i, j int) bool {
		return sl.entries[i].distance.Less(sl.entries[j].distance)
	})
	// Bound to the K closest known contacts, but never drop an entry with a
	// pending query in flight -- losing track of it would leak the slot.
	kept := sl.entries[:0]
	dropped := 0
	for _, e := range sl.entries {
		if len(kept) < sl.k || e.state == pending {
			kept = append(kept, e)
		} else {
			dropped++
		}
	}
	sl.entries = kept
	if dropped > 0 {
		sl.reindex()
	}
}

func (sl *shortlist) reindex() {
	sl.index = make(map[idkey.ID]*entry, len(sl.entries))
	for _, e := range sl.entries {
		sl.index[e.contact.NodeID] = e
	}
}

// pruneFailed drops failed entries once no query against them can possibly
// still be in flight -- called once per round after failures are recorded.
func (sl *shortlist) pruneFailed() {
	kept := sl.entries[:0]
	for _, e := range sl.entries {
		if e.state != failed {
			kept = append(kept, e)
		}
	}
	sl.entries = kept
	sl.reindex()
}

// selectForRound picks up to n unqueried contacts, smallest distance first,
// and marks them pending.
func (sl *shortlist) selectForRound(n int) []network.Contact {
	out := make([]network.Contact, 0, n)
	for _, e := range sl.entries {
		if len(out) >= n {
			break
		}
		if e.state == unqueried {
			e.state = pending
			out = append(out, e.contact)
		}
	}
	return out
}

func (sl *shortlist) markResponded(id idkey.ID) {
	if e, ok := sl.index[id]; ok {
		e.state = responded
	}
}

func (sl *shortlist) markFailed(id idkey.ID) {
	if e, ok := sl.index[id]; ok {
		e.state = failed
	}
}

func (sl *shortlist) hasPending() bool {
	for _, e := range sl.entries {
		if e.state == pending {
			return true
		}
	}
	return false
}

func (sl *shortlist) hasUnqueried() bool {
	for _, e := range sl.entries {
		if e.state == unqueried {
			return true
		}
	}
	return false
}

// closestUnfailed returns the smallest-distance entry that has not failed,
// used to track closest_so_far for the "no improvement" termination rule.
func (sl *shortlist) closestUnfailed() (network.Contact, bool) {
	for _, e := range sl.entries {
		if e.state != failed {
			return e.contact, true
		}
	}
	return network.Contact{}, false
}

// respondedCount returns how many entries have state responded.
func (sl *shortlist) respondedCount() int {
	n := 0
	for _, e := range sl.entries {
		if e.state == responded {
			n++
		}
	}
	return n
}

// respondedContacts returns every contact currently marked responded,
// ordered by ascending distance to target (the shortlist is always sorted).
func (sl *shortlist) respondedContacts() []network.Contact {
	var out []network.Contact
	for _, e := range sl.entries {
		if e.state == responded {
			out = append(out, e.contact)
		}
	}
	return out
}
