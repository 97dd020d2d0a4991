package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/logging"
	"github.com/kadhash/dht/internal/network"
	"github.com/kadhash/dht/internal/rpcmsg"
	"github.com/kadhash/dht/internal/storage"
)

// ErrInvalidInput is returned when a STORE request carries a malformed key
// or an absent value.
var ErrInvalidInput = errors.New("service: invalid input")

// ErrValueRejected is returned when the configured Validator declines a
// STORE.
var ErrValueRejected = errors.New("service: value rejected by validator")

// nodeHandler implements rpcmsg.RequestHandler, dispatching each of the
// four Kademlia RPCs to the owning Node. Every receipt of a well-formed
// message updates the routing table with the sender before any
// method-specific logic runs.
type nodeHandler struct {
	node *Node
}

func (h *nodeHandler) Handle(ctx context.Context, req rpcmsg.Message) (rpcmsg.Message, error) {
	sender, err := fromWireContact(req.From)
	if err != nil {
		h.node.log.Warn("dropping message with malformed sender contact", logging.F("err", err.Error()))
		return rpcmsg.Message{}, fmt.Errorf("service: malformed sender: %w", err)
	}
	sender = sender.Touch(h.node.clock)
	if err := h.node.routingTable.Update(ctx, sender); err != nil && !errors.Is(err, network.ErrSelf) {
		h.node.log.Debug("routing table update failed", logging.F("peer", sender.NodeID.String()), logging.F("err", err.Error()))
	}

	var resp rpcmsg.Message
	switch req.Method {
	case rpcmsg.MethodPing:
		resp, err = h.handlePing(ctx, req)
	case rpcmsg.MethodStore:
		resp, err = h.handleStore(ctx, req, sender)
	case rpcmsg.MethodFindNode:
		resp, err = h.handleFindNode(ctx, req)
	case rpcmsg.MethodFindValue:
		resp, err = h.handleFindValue(ctx, req)
	default:
		return rpcmsg.Message{}, fmt.Errorf("service: unknown method %q", req.Method)
	}
	// Every message, request or response, carries the sender's own contact
	// so the other side can learn or refresh it.
	resp.From = toWireContact(h.node.self)
	return resp, err
}

func (h *nodeHandler) handlePing(ctx context.Context, req rpcmsg.Message) (rpcmsg.Message, error) {
	return marshalResult(rpcmsg.PingResult{})
}

func (h *nodeHandler) handleStore(ctx context.Context, req rpcmsg.Message, sender network.Contact) (rpcmsg.Message, error) {
	var params rpcmsg.StoreParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcmsg.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key, err := idkey.FromHex(params.Key)
	if err != nil || params.Value == "" {
		return rpcmsg.Message{}, ErrInvalidInput
	}

	if h.node.validator != nil {
		ok, err := h.node.validator.Validate(ctx, key, params.Value)
		if err != nil {
			return rpcmsg.Message{}, fmt.Errorf("service: validator error: %w", err)
		}
		if !ok {
			return rpcmsg.Message{}, ErrValueRejected
		}
	}

	record := storage.Record{Value: params.Value, Publisher: sender.NodeID, Timestamp: h.node.clock.Now()}
	raw, err := record.Encode()
	if err != nil {
		return rpcmsg.Message{}, fmt.Errorf("service: encode record: %w", err)
	}
	if err := h.node.storage.Put(ctx, key, raw); err != nil {
		return rpcmsg.Message{}, fmt.Errorf("service: store key: %w", err)
	}
	return marshalResult(rpcmsg.StoreResult{Key: params.Key})
}

func (h *nodeHandler) handleFindNode(ctx context.Context, req rpcmsg.Message) (rpcmsg.Message, error) {
	var params rpcmsg.FindNodeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcmsg.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key, err := idkey.FromHex(params.Key)
	if err != nil {
		return rpcmsg.Message{}, ErrInvalidInput
	}
	closest := h.node.routingTable.Closest(key, h.node.k)
	return marshalResult(rpcmsg.FindNodeResult{Nodes: toWireContacts(closest)})
}

func (h *nodeHandler) handleFindValue(ctx context.Context, req rpcmsg.Message) (rpcmsg.Message, error) {
	var params rpcmsg.FindValueParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcmsg.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key, err := idkey.FromHex(params.Key)
	if err != nil {
		return rpcmsg.Message{}, ErrInvalidInput
	}

	raw, err := h.node.storage.Get(ctx, key)
	if err == nil {
		record, decErr := storage.Decode(raw)
		if decErr != nil {
			return rpcmsg.Message{}, fmt.Errorf("service: decode record: %w", decErr)
		}
		return marshalResult(rpcmsg.FindValueResult{Value: record.Value})
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return rpcmsg.Message{}, fmt.Errorf("service: storage get: %w", err)
	}
	closest := h.node.routingTable.Closest(key, h.node.k)
	return marshalResult(rpcmsg.FindValueResult{Nodes: toWireContacts(closest)})
}

func marshalResult(v any) (rpcmsg.Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return rpcmsg.Message{}, fmt.Errorf("service: encode result: %w", err)
	}
	return rpcmsg.Message{Result: raw}, nil
}
