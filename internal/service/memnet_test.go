package service_test

import (
	"context"
	"sync"

	"github.com/kadhash/dht/internal/rpcmsg"
)

// memSwitch is an in-process fabric connecting memTransport endpoints by
// address, so node_test.go can run several Node instances against each
// other without touching a real socket.
type memSwitch struct {
	mu    sync.Mutex
	peers map[string]chan rpcmsg.Message
}

func newMemSwitch() *memSwitch {
	return &memSwitch{peers: make(map[string]chan rpcmsg.Message)}
}

func (sw *memSwitch) register(addr string) *memTransport {
	ch := make(chan rpcmsg.Message, 64)
	sw.mu.Lock()
	sw.peers[addr] = ch
	sw.mu.Unlock()
	return &memTransport{sw: sw, addr: addr, events: ch}
}

type memTransport struct {
	sw     *memSwitch
	addr   string
	events chan rpcmsg.Message
	closed bool
	mu     sync.Mutex
}

func (t *memTransport) Send(ctx context.Context, addr string, msg rpcmsg.Message) error {
	t.sw.mu.Lock()
	dst, ok := t.sw.peers[addr]
	t.sw.mu.Unlock()
	if !ok {
		return nil // unreachable peer, matches best-effort delivery
	}
	select {
	case dst <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *memTransport) Events() <-chan rpcmsg.Message {
	return t.events
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.sw.mu.Lock()
	delete(t.sw.peers, t.addr)
	t.sw.mu.Unlock()
	close(t.events)
	return nil
}

var _ rpcmsg.Transport = (*memTransport)(nil)
