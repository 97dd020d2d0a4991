// Package storage defines the pluggable persistence contract a Kademlia
// node stores records through, plus a concrete in-memory reference
// implementation. The storage layer only ever sees opaque strings; the
// {value, publisher, timestamp} record shape lives at the node boundary.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kadhash/dht/internal/idkey"
)

// ErrNotFound is returned by Get when no value is stored under key.
var ErrNotFound = errors.New("storage: key not found")

// Record is the first-class, tagged shape a node stores for every key. The
// storage layer itself only sees the JSON-serialized bytes of this struct.
type Record struct {
	Value     string    `json:"value"`
	Publisher idkey.ID  `json:"publisher"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode serializes a Record to the opaque string the Storage contract
// expects.
func (r Record) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses an opaque stored string back into a Record.
func Decode(raw string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Entry is one key/value pair yielded by a Scan.
type Entry struct {
	Key idkey.ID
	Raw string
}

// Storage is the external, pluggable persistence capability: get/put/del
// plus a streaming scan over every entry. Implementations see only opaque
// strings.
type Storage interface {
	Get(ctx context.Context, key idkey.ID) (string, error)
	Put(ctx context.Context, key idkey.ID, raw string) error
	Del(ctx context.Context, key idkey.ID) error

	// Scan returns a channel of every stored entry. The stream must be
	// re-openable: calling Scan again starts a fresh pass, independent of
	// any previous one still draining.
	Scan(ctx context.Context) (<-chan Entry, <-chan error)
}
