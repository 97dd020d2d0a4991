package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/lookup"
	"github.com/kadhash/dht/internal/network"
	"github.com/kadhash/dht/internal/rpcmsg"
)

// rpcQuerier drives the four Kademlia RPCs over an *rpcmsg.Client, acting as
// both network.Pinger (for the routing table's liveness protocol) and
// lookup.Querier (for the iterative lookup engine).
type rpcQuerier struct {
	client  *rpcmsg.Client
	self    network.Contact
	timeout time.Duration
}

func newRPCQuerier(client *rpcmsg.Client, self network.Contact, timeout time.Duration) *rpcQuerier {
	return &rpcQuerier{client: client, self: self, timeout: timeout}
}

func (q *rpcQuerier) send(ctx context.Context, peer network.Contact, method rpcmsg.Method, params any) (rpcmsg.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	raw, err := json.Marshal(params)
	if err != nil {
		return rpcmsg.Message{}, fmt.Errorf("service: encode %s params: %w", method, err)
	}
	req := rpcmsg.Message{
		ID:     rpcmsg.NewID(),
		Method: method,
		Params: raw,
		From:   toWireContact(q.self),
	}
	return q.client.Send(ctx, peer.Addr(), req)
}

// Ping implements network.Pinger.
func (q *rpcQuerier) Ping(ctx context.Context, peer network.Contact) error {
	_, err := q.send(ctx, peer, rpcmsg.MethodPing, rpcmsg.PingParams{})
	return err
}

// FindNode implements lookup.Querier.
func (q *rpcQuerier) FindNode(ctx context.Context, peer network.Contact, target idkey.ID) ([]network.Contact, error) {
	resp, err := q.send(ctx, peer, rpcmsg.MethodFindNode, rpcmsg.FindNodeParams{Key: target.String()})
	if err != nil {
		return nil, err
	}
	var result rpcmsg.FindNodeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("service: decode FIND_NODE result: %w", err)
	}
	return fromWireContacts(result.Nodes), nil
}

// FindValue implements lookup.Querier.
func (q *rpcQuerier) FindValue(ctx context.Context, peer network.Contact, target idkey.ID) (string, bool, []network.Contact, error) {
	resp, err := q.send(ctx, peer, rpcmsg.MethodFindValue, rpcmsg.FindValueParams{Key: target.String()})
	if err != nil {
		return "", false, nil, err
	}
	var result rpcmsg.FindValueResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", false, nil, fmt.Errorf("service: decode FIND_VALUE result: %w", err)
	}
	if result.Value != "" {
		return result.Value, true, nil, nil
	}
	return "", false, fromWireContacts(result.Nodes), nil
}

// Store implements lookup.Querier, used both by Node.Put and by the
// lookup engine's cache-at-closest-miss rule.
func (q *rpcQuerier) Store(ctx context.Context, peer network.Contact, key idkey.ID, value string) error {
	_, err := q.send(ctx, peer, rpcmsg.MethodStore, rpcmsg.StoreParams{Key: key.String(), Value: value})
	return err
}

var _ lookup.Querier = (*rpcQuerier)(nil)
var _ network.Pinger = (*rpcQuerier)(nil)
