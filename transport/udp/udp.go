// Package udp is a reference rpcmsg.Transport: Kademlia messages
// JSON-encoded over UDP datagrams, one message per packet.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/kadhash/dht/internal/rpcmsg"
)

// maxDatagram bounds a single read; large STORE values will need a
// transport with fragmentation or a streaming alternative, out of scope
// for this reference implementation.
const maxDatagram = 64 * 1024

// Transport is a UDP-backed rpcmsg.Transport.
type Transport struct {
	conn   *net.UDPConn
	events chan rpcmsg.Message
	done   chan struct{}
}

// Listen binds addr ("host:port") and starts the read loop feeding Events.
func Listen(addr string) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", addr, err)
	}
	t := &Transport{
		conn:   conn,
		events: make(chan rpcmsg.Message, 64),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) readLoop() {
	defer close(t.events)
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var msg rpcmsg.Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue // malformed datagram, dropped silently
		}
		select {
		case t.events <- msg:
		case <-t.done:
			return
		}
	}
}

// Send marshals msg and writes it as a single UDP datagram to addr.
// Delivery is best-effort: no retry, no delivery confirmation.
func (t *Transport) Send(ctx context.Context, addr string, msg rpcmsg.Message) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", addr, err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("udp: encode message: %w", err)
	}
	if len(raw) > maxDatagram {
		return fmt.Errorf("udp: message too large for one datagram (%d bytes)", len(raw))
	}
	_, err = t.conn.WriteToUDP(raw, udpAddr)
	return err
}

// Events returns the channel of inbound, decoded messages.
func (t *Transport) Events() <-chan rpcmsg.Message {
	return t.events
}

// Close stops the read loop and releases the socket.
func (t *Transport) Close() error {
	close(t.done)
	return t.conn.Close()
}

var _ rpcmsg.Transport = (*Transport)(nil)
