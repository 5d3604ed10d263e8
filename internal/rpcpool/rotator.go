package rpcpool

import (
	"sync"

	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
)

// Rotator spreads chain reads across a fixed pool of RPC endpoints.
// After rotateAfter successful requests on the active endpoint it advances to
// the next one; a failed request rotates immediately. Rotation is circular
// and no endpoint is ever removed: provider outages are typically transient,
// so a misbehaving endpoint is deprioritized by round-robin, not blacklisted.
type Rotator struct {
	mu          sync.Mutex
	endpoints   []string
	index       int
	requests    int
	rotateAfter int
}

// Status is a read-only snapshot of the rotator for external monitoring.
type Status struct {
	CurrentIndex      int    `json:"current_index"`
	CurrentEndpoint   string `json:"current_endpoint"`
	PoolSize          int    `json:"pool_size"`
	RequestsRemaining int    `json:"requests_remaining"`
}

// NewRotator builds a rotator over the given endpoint list. The list must be
// non-empty; rotateAfter values below 1 are clamped to 1.
func NewRotator(endpoints []string, rotateAfter int) *Rotator {
	if len(endpoints) == 0 {
		panic("rpcpool: empty endpoint list")
	}
	if rotateAfter < 1 {
		rotateAfter = 1
	}
	eps := make([]string, len(endpoints))
	copy(eps, endpoints)
	return &Rotator{
		endpoints:   eps,
		rotateAfter: rotateAfter,
	}
}

// Current returns the URL of the active endpoint.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[r.index]
}

// RecordRequest reports the outcome of a request issued against the active
// endpoint. Successes rotate once the threshold is reached; a failure rotates
// immediately to shed load off the misbehaving endpoint.
func (r *Rotator) RecordRequest(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !success {
		r.advance()
		metrics.RpcRotations.WithLabelValues("failure").Inc()
		return
	}

	r.requests++
	if r.requests >= r.rotateAfter {
		r.advance()
		metrics.RpcRotations.WithLabelValues("threshold").Inc()
	}
}

// Status reports the current rotation state without mutating it.
func (r *Rotator) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		CurrentIndex:      r.index,
		CurrentEndpoint:   r.endpoints[r.index],
		PoolSize:          len(r.endpoints),
		RequestsRemaining: r.rotateAfter - r.requests,
	}
}

// advance moves to the next endpoint and resets the request counter.
// Caller must hold r.mu.
func (r *Rotator) advance() {
	r.index = (r.index + 1) % len(r.endpoints)
	r.requests = 0
}
