package rpcmsg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned when a request's correlation slot expires before a
// matching response arrives.
var ErrTimeout = errors.New("rpcmsg: request timed out")

// ErrClosed is returned by Send after the client has been closed.
var ErrClosed = errors.New("rpcmsg: client closed")

// DefaultTimeout is the default per-request RPC timeout.
const DefaultTimeout = 5 * time.Second

// pendingRequest is one entry in the correlation table: a request is
// waiting for exactly one response carrying the same ID.
type pendingRequest struct {
	resultCh chan Message
	timer    *time.Timer
}

// Client wraps a Transport with request/response correlation and per-request
// timeouts, dispatching inbound requests to a caller-supplied handler.
type Client struct {
	transport Transport
	handler   RequestHandler

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	done chan struct{}
}

// RequestHandler answers an inbound request with a result message (no
// error) to send back, or an error to surface as an Error response.
type RequestHandler interface {
	Handle(ctx context.Context, req Message) (Message, error)
}

// NewClient wraps transport, routing inbound requests to handler and
// inbound responses to whichever Send call is waiting on that ID.
func NewClient(transport Transport, handler RequestHandler) *Client {
	c := &Client{
		transport: transport,
		handler:   handler,
		pending:   make(map[string]*pendingRequest),
		done:      make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *Client) dispatchLoop() {
	for msg := range c.transport.Events() {
		if msg.IsRequest() {
			go c.serveRequest(msg)
			continue
		}
		c.completePending(msg)
	}
	close(c.done)
}

func (c *Client) serveRequest(req Message) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	resp, err := c.handler.Handle(ctx, req)
	resp.ID = req.ID
	if err != nil {
		resp.Error = err.Error()
	}
	addr := fmt.Sprintf("%s:%d", req.From.Address, req.From.Port)
	// Responses are transmitted and forgotten: they never time out and
	// never expect a reply.
	_ = c.transport.Send(ctx, addr, resp)
}

func (c *Client) completePending(msg Message) {
	c.mu.Lock()
	pr, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return // unknown or already-timed-out correlation ID; drop silently
	}
	pr.timer.Stop()
	pr.resultCh <- msg
}

// Send issues a request to addr and blocks until a matching response
// arrives, the per-request timeout elapses, or ctx is canceled.
func (c *Client) Send(ctx context.Context, addr string, req Message) (Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	resultCh := make(chan Message, 1)
	pr := &pendingRequest{resultCh: resultCh}
	c.pending[req.ID] = pr
	c.mu.Unlock()

	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	pr.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		if _, still := c.pending[req.ID]; still {
			delete(c.pending, req.ID)
			c.mu.Unlock()
			resultCh <- Message{}
		} else {
			c.mu.Unlock()
		}
	})

	if err := c.transport.Send(ctx, addr, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		pr.timer.Stop()
		return Message{}, err
	}

	select {
	case resp := <-resultCh:
		if resp.ID == "" {
			return Message{}, ErrTimeout
		}
		if resp.Error != "" {
			return Message{}, fmt.Errorf("rpcmsg: remote error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		pr.timer.Stop()
		return Message{}, ctx.Err()
	}
}

// Close stops dispatching and releases the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.transport.Close()
}
