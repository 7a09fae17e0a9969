package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	auctionsStarted  atomic.Uint64
	auctionsAccepted atomic.Uint64
	auctionsExpired  atomic.Uint64
	ordersFulfilled  atomic.Uint64
	rpcRequests      atomic.Uint64
	rpcTimeouts      atomic.Uint64
	reconnects       atomic.Uint64
	errorsTotal      atomic.Uint64

	// Latency tracking for clearing-service requests
	rpcLatencySumNs atomic.Int64
	rpcLatencyCount atomic.Uint64

	// Gauges
	clearingConnected atomic.Int32 // 1 = authenticated, 0 = not
}

// RecordAuctionStarted counts a new auction.
func (m *Metrics) RecordAuctionStarted() { m.auctionsStarted.Add(1) }

// RecordAuctionAccepted counts an auction stopped by acceptance.
func (m *Metrics) RecordAuctionAccepted() { m.auctionsAccepted.Add(1) }

// RecordAuctionExpired counts an auction that timed out.
func (m *Metrics) RecordAuctionExpired() { m.auctionsExpired.Add(1) }

// RecordOrderFulfilled counts a fulfilled order.
func (m *Metrics) RecordOrderFulfilled() { m.ordersFulfilled.Add(1) }

// RecordRPCRequest records a clearing-service request with latency.
func (m *Metrics) RecordRPCRequest(latencyNs int64) {
	m.rpcRequests.Add(1)
	m.rpcLatencySumNs.Add(latencyNs)
	m.rpcLatencyCount.Add(1)
}

// RecordRPCTimeout counts a request that received no matching response.
func (m *Metrics) RecordRPCTimeout() { m.rpcTimeouts.Add(1) }

// RecordReconnect counts a clearing-service reconnect attempt.
func (m *Metrics) RecordReconnect() { m.reconnects.Add(1) }

// RecordError records an error occurrence.
func (m *Metrics) RecordError() { m.errorsTotal.Add(1) }

// SetClearingConnected sets the authenticated-connection gauge.
func (m *Metrics) SetClearingConnected(connected bool) {
	if connected {
		m.clearingConnected.Store(1)
	} else {
		m.clearingConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	AuctionsStarted   uint64
	AuctionsAccepted  uint64
	AuctionsExpired   uint64
	OrdersFulfilled   uint64
	RPCRequests       uint64
	RPCTimeouts       uint64
	Reconnects        uint64
	ErrorsTotal       uint64
	AvgRPCLatencyNs   int64
	ClearingConnected bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.rpcLatencyCount.Load()
	if count > 0 {
		avgLatency = m.rpcLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		AuctionsStarted:   m.auctionsStarted.Load(),
		AuctionsAccepted:  m.auctionsAccepted.Load(),
		AuctionsExpired:   m.auctionsExpired.Load(),
		OrdersFulfilled:   m.ordersFulfilled.Load(),
		RPCRequests:       m.rpcRequests.Load(),
		RPCTimeouts:       m.rpcTimeouts.Load(),
		Reconnects:        m.reconnects.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgRPCLatencyNs:   avgLatency,
		ClearingConnected: m.clearingConnected.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.auctionsStarted.Store(0)
	m.auctionsAccepted.Store(0)
	m.auctionsExpired.Store(0)
	m.ordersFulfilled.Store(0)
	m.rpcRequests.Store(0)
	m.rpcTimeouts.Store(0)
	m.reconnects.Store(0)
	m.errorsTotal.Store(0)
	m.rpcLatencySumNs.Store(0)
	m.rpcLatencyCount.Store(0)
	m.clearingConnected.Store(0)
}
