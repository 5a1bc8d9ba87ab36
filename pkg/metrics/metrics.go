package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from payload codecs, compatibility checks and
// handshake exchanges.
type Collector struct {
	// Handshake metrics
	handshakesActive   atomic.Uint64
	handshakesTotal    atomic.Uint64
	handshakesAccepted atomic.Uint64
	handshakesRejected atomic.Uint64
	handshakesFailed   atomic.Uint64
	handshakeLatency   *Histogram

	// Payload metrics
	payloadsEncoded atomic.Uint64
	payloadsDecoded atomic.Uint64
	bytesEncoded    atomic.Uint64
	bytesDecoded    atomic.Uint64

	// Compatibility metrics
	checksTotal             atomic.Uint64
	checkCacheHits          atomic.Uint64
	gameVersionMismatches   atomic.Uint64
	missingModules          atomic.Uint64
	moduleVersionMismatches atomic.Uint64

	// Error metrics
	malformedPayloads     atomic.Uint64
	unsupportedLayouts    atomic.Uint64
	layoutInconsistencies atomic.Uint64
	protocolErrors        atomic.Uint64
	rateLimited           atomic.Uint64

	// Performance histograms
	encodeLatency *Histogram
	decodeLatency *Histogram

	// Creation time for uptime tracking
	createdAt time.Time

	// Labels for this collector instance
	labels Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		encodeLatency:    NewHistogram(LatencyBuckets),
		decodeLatency:    NewHistogram(LatencyBuckets),
		createdAt:        time.Now(),
		labels:           labels,
	}
}

// Default bucket configurations for histograms.
var (
	// HandshakeLatencyBuckets for handshake duration (milliseconds).
	HandshakeLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	// LatencyBuckets for payload encode/decode (microseconds).
	LatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}
)

// --- Handshake Metrics ---

// HandshakeStarted increments active and total handshake counters.
func (c *Collector) HandshakeStarted() {
	c.handshakesActive.Add(1)
	c.handshakesTotal.Add(1)
}

// HandshakeEnded decrements the active handshake counter.
func (c *Collector) HandshakeEnded() {
	for {
		current := c.handshakesActive.Load()
		if current == 0 {
			return
		}
		if c.handshakesActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// HandshakeAccepted records a handshake that ended with both peers compatible.
func (c *Collector) HandshakeAccepted() {
	c.handshakesAccepted.Add(1)
}

// HandshakeRejected records a handshake rejected for incompatibility.
func (c *Collector) HandshakeRejected() {
	c.handshakesRejected.Add(1)
}

// HandshakeFailed records a handshake that failed on I/O or protocol errors.
func (c *Collector) HandshakeFailed() {
	c.handshakesFailed.Add(1)
}

// RecordHandshakeLatency records a handshake duration.
func (c *Collector) RecordHandshakeLatency(d time.Duration) {
	c.handshakeLatency.Observe(float64(d.Milliseconds()))
}

// --- Payload Metrics ---

// RecordPayloadEncoded records an encoded payload's size and encode time.
func (c *Collector) RecordPayloadEncoded(size int, d time.Duration) {
	c.payloadsEncoded.Add(1)
	if size > 0 {
		c.bytesEncoded.Add(uint64(size))
	}
	c.encodeLatency.Observe(float64(d.Microseconds()))
}

// RecordPayloadDecoded records a received payload's size and decode time,
// whether or not decoding succeeded.
func (c *Collector) RecordPayloadDecoded(size int, d time.Duration) {
	c.payloadsDecoded.Add(1)
	if size > 0 {
		c.bytesDecoded.Add(uint64(size))
	}
	c.decodeLatency.Observe(float64(d.Microseconds()))
}

// --- Compatibility Metrics ---

// RecordCheck records a compatibility check; cached reports whether the
// result came from the checker's cache.
func (c *Collector) RecordCheck(cached bool) {
	c.checksTotal.Add(1)
	if cached {
		c.checkCacheHits.Add(1)
	}
}

// RecordGameVersionMismatch records a game or network version mismatch.
func (c *Collector) RecordGameVersionMismatch() {
	c.gameVersionMismatches.Add(1)
}

// RecordMissingModule records a required module absent on one side.
func (c *Collector) RecordMissingModule() {
	c.missingModules.Add(1)
}

// RecordModuleVersionMismatch records a module version below the required one.
func (c *Collector) RecordModuleVersionMismatch() {
	c.moduleVersionMismatches.Add(1)
}

// --- Error Metrics ---

// RecordMalformedPayload increments the malformed payload counter.
func (c *Collector) RecordMalformedPayload() {
	c.malformedPayloads.Add(1)
}

// RecordUnsupportedLayout increments the unsupported data layout counter.
func (c *Collector) RecordUnsupportedLayout() {
	c.unsupportedLayouts.Add(1)
}

// RecordLayoutInconsistency increments the mixed data layout counter.
func (c *Collector) RecordLayoutInconsistency() {
	c.layoutInconsistencies.Add(1)
}

// RecordProtocolError increments the protocol error counter.
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Add(1)
}

// RecordRateLimited increments the counter of connections refused by a
// per-peer or rate limit.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Add(1)
}

// --- Snapshot ---

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	// Timestamp of the snapshot
	Timestamp time.Time

	// Uptime since collector creation
	Uptime time.Duration

	// Handshake metrics
	HandshakesActive   uint64
	HandshakesTotal    uint64
	HandshakesAccepted uint64
	HandshakesRejected uint64
	HandshakesFailed   uint64

	// Payload metrics
	PayloadsEncoded uint64
	PayloadsDecoded uint64
	BytesEncoded    uint64
	BytesDecoded    uint64

	// Compatibility metrics
	ChecksTotal             uint64
	CheckCacheHits          uint64
	GameVersionMismatches   uint64
	MissingModules          uint64
	ModuleVersionMismatches uint64

	// Error metrics
	MalformedPayloads     uint64
	UnsupportedLayouts    uint64
	LayoutInconsistencies uint64
	ProtocolErrors        uint64
	RateLimited           uint64

	// Histogram summaries
	HandshakeLatency HistogramSummary
	EncodeLatency    HistogramSummary
	DecodeLatency    HistogramSummary

	// Labels
	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:               time.Now(),
		Uptime:                  time.Since(c.createdAt),
		HandshakesActive:        c.handshakesActive.Load(),
		HandshakesTotal:         c.handshakesTotal.Load(),
		HandshakesAccepted:      c.handshakesAccepted.Load(),
		HandshakesRejected:      c.handshakesRejected.Load(),
		HandshakesFailed:        c.handshakesFailed.Load(),
		PayloadsEncoded:         c.payloadsEncoded.Load(),
		PayloadsDecoded:         c.payloadsDecoded.Load(),
		BytesEncoded:            c.bytesEncoded.Load(),
		BytesDecoded:            c.bytesDecoded.Load(),
		ChecksTotal:             c.checksTotal.Load(),
		CheckCacheHits:          c.checkCacheHits.Load(),
		GameVersionMismatches:   c.gameVersionMismatches.Load(),
		MissingModules:          c.missingModules.Load(),
		ModuleVersionMismatches: c.moduleVersionMismatches.Load(),
		MalformedPayloads:       c.malformedPayloads.Load(),
		UnsupportedLayouts:      c.unsupportedLayouts.Load(),
		LayoutInconsistencies:   c.layoutInconsistencies.Load(),
		ProtocolErrors:          c.protocolErrors.Load(),
		RateLimited:             c.rateLimited.Load(),
		HandshakeLatency:        c.handshakeLatency.Summary(),
		EncodeLatency:           c.encodeLatency.Summary(),
		DecodeLatency:           c.decodeLatency.Summary(),
		Labels:                  c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	for _, v := range []*atomic.Uint64{
		&c.handshakesActive, &c.handshakesTotal, &c.handshakesAccepted,
		&c.handshakesRejected, &c.handshakesFailed,
		&c.payloadsEncoded, &c.payloadsDecoded, &c.bytesEncoded, &c.bytesDecoded,
		&c.checksTotal, &c.checkCacheHits,
		&c.gameVersionMismatches, &c.missingModules, &c.moduleVersionMismatches,
		&c.malformedPayloads, &c.unsupportedLayouts, &c.layoutInconsistencies, &c.protocolErrors,
		&c.rateLimited,
	} {
		v.Store(0)
	}
	c.handshakeLatency.Reset()
	c.encodeLatency.Reset()
	c.decodeLatency.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector.
// Creates one with default settings if not already initialized.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		if globalCollector == nil {
			globalCollector = NewCollector(Labels{"instance": "default"})
		}
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector.
// Should be called during initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollector = c
}
