// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waconnect/waconnect-core/internal/core/binary"
)

// DefaultRequestTimeout is used when a caller doesn't supply its own
// context deadline for a correlated request.
const DefaultRequestTimeout = 30 * time.Second

// RequestTimeout is returned when a pending request's deadline elapses
// before a matching response node arrives.
type RequestTimeout struct {
	RequestID string
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("request %s timed out waiting for a response", e.RequestID)
}

// pendingSlot holds the channel a response is delivered on and a separate
// abort channel, so closing one to unblock a waiter can never be confused
// with an actual (zero-value) delivered node. abortErr is written before
// abortCh closes and carries the abort cause, if one was given.
type pendingSlot struct {
	nodeCh   chan binary.Node
	abortCh  chan struct{}
	abortErr error
}

// Correlator matches outgoing request nodes (identified by their "id"
// attribute) to the response nodes the server later sends back over the
// same duplex connection. Only one request per id may be pending at a
// time.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingSlot
}

// NewCorrelator creates an empty request/response correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*pendingSlot)}
}

// Register allocates a pending slot for requestID. The caller must send
// the request node itself; Register only prepares to receive the reply.
func (c *Correlator) Register(requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[requestID]; exists {
		return fmt.Errorf("request id %s already has a pending response", requestID)
	}
	c.pending[requestID] = &pendingSlot{
		nodeCh:  make(chan binary.Node, 1),
		abortCh: make(chan struct{}),
	}
	return nil
}

// Wait blocks until a response for requestID arrives, ctx is cancelled,
// DefaultRequestTimeout elapses (if ctx has no earlier deadline), or the
// request is aborted via Cancel/FailAll.
func (c *Correlator) Wait(ctx context.Context, requestID string) (binary.Node, error) {
	c.mu.Lock()
	slot, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return binary.Node{}, fmt.Errorf("request id %s was never registered", requestID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	select {
	case node := <-slot.nodeCh:
		return node, nil
	case <-slot.abortCh:
		if slot.abortErr != nil {
			return binary.Node{}, slot.abortErr
		}
		return binary.Node{}, fmt.Errorf("request %s was cancelled", requestID)
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return binary.Node{}, ctx.Err()
		}
		return binary.Node{}, &RequestTimeout{RequestID: requestID}
	}
}

// Resolve delivers a response node to whichever Wait call is pending for
// its "id" attribute. It reports false if no request is currently waiting
// on that id (the node is then the caller's to dispatch as a server push).
func (c *Correlator) Resolve(node binary.Node) bool {
	idVal, ok := node.Attrs.Get("id")
	if !ok {
		return false
	}
	id := idVal.String()

	c.mu.Lock()
	slot, exists := c.pending[id]
	c.mu.Unlock()
	if !exists {
		return false
	}

	select {
	case slot.nodeCh <- node:
	default:
	}
	return true
}

// Cancel releases the pending slot for requestID without delivering a
// response, unblocking any in-flight Wait with an error.
func (c *Correlator) Cancel(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.pending[requestID]; ok {
		close(slot.abortCh)
		delete(c.pending, requestID)
	}
}

// Fail delivers err to the request pending under requestID, reporting
// whether anything was waiting on that id.
func (c *Correlator) Fail(requestID string, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.pending[requestID]
	if !ok {
		return false
	}
	slot.abortErr = err
	close(slot.abortCh)
	delete(c.pending, requestID)
	return true
}

// FailAll releases every pending request with err as the cause, used when
// the underlying connection drops so no Wait call hangs forever.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, slot := range c.pending {
		slot.abortErr = err
		close(slot.abortCh)
		delete(c.pending, id)
	}
}
