// Package rpcmsg defines the wire message shape shared by every Kademlia
// RPC (PING, STORE, FIND_NODE, FIND_VALUE) and the Transport contract any
// concrete transport must satisfy. Encoding is JSON-compatible: identifiers
// travel as hex strings.
package rpcmsg

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Method names the four Kademlia RPCs.
type Method string

const (
	MethodPing      Method = "PING"
	MethodStore     Method = "STORE"
	MethodFindNode  Method = "FIND_NODE"
	MethodFindValue Method = "FIND_VALUE"
)

// WireContact is the hex-encoded, JSON-tagged contact representation that
// travels on the wire.
type WireContact struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address"`
	Port    uint32 `json:"port"`
}

// Message is the envelope every RPC uses: requests carry Method+Params,
// responses carry either Result or Error, and ID correlates a response to
// the request that caused it.
type Message struct {
	ID     string          `json:"id"`
	Method Method          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	From   WireContact     `json:"from"`
}

// IsRequest reports whether the message is a request (carries a method).
func (m Message) IsRequest() bool {
	return m.Method != ""
}

// NewID returns a fresh identifier used solely to correlate a response to
// its request.
func NewID() string {
	return uuid.NewString()
}

// PingParams, StoreParams, FindNodeParams, FindValueParams are the typed
// parameter shapes for each request method, marshaled into Message.Params.

type PingParams struct{}

type StoreParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type FindNodeParams struct {
	Key string `json:"key"`
}

type FindValueParams struct {
	Key string `json:"key"`
}

// PingResult, StoreResult, FindNodeResult, FindValueResult are the typed
// result shapes, marshaled into Message.Result.

type PingResult struct{}

type StoreResult struct {
	Key string `json:"key"`
}

type FindNodeResult struct {
	Nodes []WireContact `json:"nodes"`
}

// FindValueResult carries either Value (a hit) or Nodes (a miss, with the
// closest known contacts so the caller can STORE to them).
type FindValueResult struct {
	Value string        `json:"value,omitempty"`
	Nodes []WireContact `json:"nodes,omitempty"`
}

// Transport is the pluggable capability every concrete transport (UDP,
// in-memory, anything else) must satisfy. It is push-based: inbound
// messages surface through Events, outbound delivery is best-effort.
type Transport interface {
	// Send delivers a message to a contact at the given address. It does
	// not wait for anything; correlation and timeouts are the RPC layer's
	// job, not the transport's.
	Send(ctx context.Context, addr string, msg Message) error

	// Events returns a channel of inbound, decoded messages. The channel
	// is closed when the transport stops.
	Events() <-chan Message

	// Close releases any resources (sockets, goroutines) held by the
	// transport.
	Close() error
}
