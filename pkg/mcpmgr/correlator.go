package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// PendingRequest is the caller-side handle for one outstanding request. It
// completes exactly once, with either a result or an error.
type PendingRequest struct {
	ID int64

	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error
}

func newPendingRequest(id int64) *PendingRequest {
	return &PendingRequest{ID: id, done: make(chan struct{})}
}

func (p *PendingRequest) complete(result json.RawMessage, err error) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		p.err = err
		completed = true
		close(p.done)
	})
	return completed
}

// Done is closed once the request has been resolved or rejected.
func (p *PendingRequest) Done() <-chan struct{} { return p.done }

// Result returns the outcome. Only meaningful after Done is closed.
func (p *PendingRequest) Result() (json.RawMessage, error) {
	<-p.done
	return p.result, p.err
}

// Wait blocks until the request completes or ctx ends. Cancellation does not
// remove the entry from its correlator; callers reject it themselves.
func (p *PendingRequest) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Correlator tracks outstanding requests of a single transport by id.
type Correlator struct {
	mu      sync.Mutex
	next    int64
	pending map[int64]*PendingRequest
	// closed holds the AbortAll reason. Once set, Register fails with it.
	closed error
}

// NewCorrelator returns an empty correlator whose first id is 1.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[int64]*PendingRequest)}
}

// NextID allocates the next request id. Ids are strictly increasing.
func (c *Correlator) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

// Register records a pending entry for id. It must be called before the
// request is written so a fast response always finds its entry.
func (c *Correlator) Register(id int64) (*PendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil, c.closed
	}
	if _, dup := c.pending[id]; dup {
		return nil, fmt.Errorf("mcpmgr: request id %d already pending", id)
	}
	p := newPendingRequest(id)
	c.pending[id] = p
	return p, nil
}

// Resolve completes id with result. It reports false when no entry exists,
// which makes repeated or unknown resolutions harmless.
func (c *Correlator) Resolve(id int64, result json.RawMessage) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	return p.complete(result, nil)
}

// Reject completes id with err. Unknown ids are ignored.
func (c *Correlator) Reject(id int64, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	return p.complete(nil, err)
}

// AbortAll rejects every pending entry with reason and closes the correlator
// to new registrations. It returns how many entries were rejected.
func (c *Correlator) AbortAll(reason error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = reason
	}
	pending := c.pending
	c.pending = make(map[int64]*PendingRequest)
	c.mu.Unlock()
	for _, p := range pending {
		p.complete(nil, reason)
	}
	return len(pending)
}

// Pending reports the number of outstanding entries.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) take(id int64) *PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}
