package network

import (
	"container/list"

	"github.com/benbjohnson/clock"

	"github.com/kadhash/dht/internal/idkey"
)

// K is the bucket capacity and lookup breadth.
const K = 20

// AddResult reports what bucket.add actually did, so callers (the routing
// table's eviction policy) can react to a full bucket without the bucket
// itself knowing anything about liveness probing.
type AddResult int

const (
	// Added means the contact was not present and there was room for it.
	Added AddResult = iota
	// Updated means the contact was already present; it moved to the tail
	// and its LastSeen was refreshed.
	Updated
	// Full means the bucket has K entries and the contact was not already
	// one of them; the bucket was not mutated. Head() names the eviction
	// candidate.
	Full
)

// bucket is an ordered sequence of at most K contacts. The head is the
// least-recently-seen entry, the tail the most-recently-seen; any
// structure with O(K) insert/remove and stable ordering works here.
type bucket struct {
	entries *list.List // of Contact, front = head/LRU, back = tail/MRU
}

func newBucket() *bucket {
	return &bucket{entries: list.New()}
}

func (b *bucket) len() int {
	return b.entries.Len()
}

func (b *bucket) isFull() bool {
	return b.entries.Len() >= K
}

func (b *bucket) find(id idkey.ID) *list.Element {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Contact).NodeID == id {
			return e
		}
	}
	return nil
}

// add moves a repeat sighting to the tail, appends a new one if there's
// room, or reports Full without mutating the bucket.
func (b *bucket) add(c Contact, clk clock.Clock) AddResult {
	if e := b.find(c.NodeID); e != nil {
		c.LastSeen = clk.Now()
		e.Value = c
		b.entries.MoveToBack(e)
		return Updated
	}
	if b.len() < K {
		c.LastSeen = clk.Now()
		b.entries.PushBack(c)
		return Added
	}
	return Full
}

func (b *bucket) remove(id idkey.ID) bool {
	if e := b.find(id); e != nil {
		b.entries.Remove(e)
		return true
	}
	return false
}

func (b *bucket) has(id idkey.ID) bool {
	return b.find(id) != nil
}

// head returns the least-recently-seen contact, the eviction candidate.
func (b *bucket) head() (Contact, bool) {
	if e := b.entries.Front(); e != nil {
		return e.Value.(Contact), true
	}
	return Contact{}, false
}

// tail returns the most-recently-seen contact.
func (b *bucket) tail() (Contact, bool) {
	if e := b.entries.Back(); e != nil {
		return e.Value.(Contact), true
	}
	return Contact{}, false
}

// moveToTail promotes an existing head contact (e.g. after it answers a
// liveness PING) without touching its LastSeen semantics beyond a refresh.
func (b *bucket) moveToTail(id idkey.ID, clk clock.Clock) {
	if e := b.find(id); e != nil {
		c := e.Value.(Contact)
		c.LastSeen = clk.Now()
		e.Value = c
		b.entries.MoveToBack(e)
	}
}

// contacts returns a snapshot of every contact currently in the bucket.
func (b *bucket) contacts() []Contact {
	out := make([]Contact, 0, b.entries.Len())
	for e := b.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Contact))
	}
	return out
}
