package stats

import (
	"go.uber.org/atomic"

	"github.com/skypro1111/ccs-service/internal/protocol"
)

// Counters is a concurrently updatable set of service counters.
// Two instances are kept at runtime: the rolling set, drained on every report,
// and the cumulative set that rolling snapshots are merged into.
type Counters struct {
	// The number of connections from previously unseen peers.
	newConnections atomic.Uint64
	// The number of successfully evaluated requests.
	computedRequests atomic.Uint64
	// The number of requests answered with ERROR.
	incorrectOperations atomic.Uint64
	// The sum of all successfully computed values.
	valueSum atomic.Int64
	// The number of discovery probes answered.
	discoveryProbes atomic.Uint64
	// Successful requests per operation, indexed by protocol.Operation.
	perOperation [len(protocol.Operations)]atomic.Uint64
}

// Snapshot is a point-in-time copy of a Counters set
type Snapshot struct {
	NewConnections      uint64            `json:"new_connections"`
	ComputedRequests    uint64            `json:"computed_requests"`
	IncorrectOperations uint64            `json:"incorrect_operations"`
	ValueSum            int64             `json:"value_sum"`
	DiscoveryProbes     uint64            `json:"discovery_probes"`
	PerOperation        map[string]uint64 `json:"per_operation"`
}

// NewCounters creates a zeroed counter set
func NewCounters() *Counters {
	return &Counters{}
}

// RecordNewConnection counts a connection from a peer not seen before
func (c *Counters) RecordNewConnection() {
	c.newConnections.Inc()
}

// RecordComputed counts a successfully evaluated request and adds its value to the sum
func (c *Counters) RecordComputed(op protocol.Operation, value int32) {
	c.computedRequests.Inc()
	c.valueSum.Add(int64(value))
	if op.IsValid() {
		c.perOperation[op].Inc()
	}
}

// RecordIncorrect counts a request answered with ERROR
func (c *Counters) RecordIncorrect() {
	c.incorrectOperations.Inc()
}

// RecordDiscoveryProbe counts an answered discovery probe
func (c *Counters) RecordDiscoveryProbe() {
	c.discoveryProbes.Inc()
}

// Drain captures the current values and resets every field to zero.
// Each field is swapped atomically, so a concurrent increment is counted
// either in the returned snapshot or in the next one, never in both.
func (c *Counters) Drain() Snapshot {
	s := Snapshot{
		NewConnections:      c.newConnections.Swap(0),
		ComputedRequests:    c.computedRequests.Swap(0),
		IncorrectOperations: c.incorrectOperations.Swap(0),
		ValueSum:            c.valueSum.Swap(0),
		DiscoveryProbes:     c.discoveryProbes.Swap(0),
		PerOperation:        make(map[string]uint64, len(protocol.Operations)),
	}
	for _, op := range protocol.Operations {
		s.PerOperation[op.String()] = c.perOperation[op].Swap(0)
	}
	return s
}

// Snapshot reads the current values without resetting them
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		NewConnections:      c.newConnections.Load(),
		ComputedRequests:    c.computedRequests.Load(),
		IncorrectOperations: c.incorrectOperations.Load(),
		ValueSum:            c.valueSum.Load(),
		DiscoveryProbes:     c.discoveryProbes.Load(),
		PerOperation:        make(map[string]uint64, len(protocol.Operations)),
	}
	for _, op := range protocol.Operations {
		s.PerOperation[op.String()] = c.perOperation[op].Load()
	}
	return s
}

// Merge adds every field of s into c
func (c *Counters) Merge(s Snapshot) {
	c.newConnections.Add(s.NewConnections)
	c.computedRequests.Add(s.ComputedRequests)
	c.incorrectOperations.Add(s.IncorrectOperations)
	c.valueSum.Add(s.ValueSum)
	c.discoveryProbes.Add(s.DiscoveryProbes)
	for _, op := range protocol.Operations {
		c.perOperation[op].Add(s.PerOperation[op.String()])
	}
}

// IsZero reports whether no activity was recorded
func (s Snapshot) IsZero() bool {
	if s.NewConnections != 0 || s.ComputedRequests != 0 || s.IncorrectOperations != 0 ||
		s.ValueSum != 0 || s.DiscoveryProbes != 0 {
		return false
	}
	for _, v := range s.PerOperation {
		if v != 0 {
			return false
		}
	}
	return true
}
