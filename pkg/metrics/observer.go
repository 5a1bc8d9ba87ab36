package metrics

import (
	"context"
	"time"
)

// HandshakeObserver records metrics, traces and logs for one side of a
// version data exchange. It satisfies handshake.Observer.
type HandshakeObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	role      string
	peer      string
}

// HandshakeObserverConfig configures a handshake observer. Nil fields fall
// back to the global collector, tracer and logger.
type HandshakeObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	Role      string // "server" or "client"
	PeerAddr  string
}

// NewHandshakeObserver creates a new handshake observer.
func NewHandshakeObserver(cfg HandshakeObserverConfig) *HandshakeObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	fields := Fields{"role": cfg.Role}
	if cfg.PeerAddr != "" {
		fields["peer"] = cfg.PeerAddr
	}

	return &HandshakeObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("handshake").With(fields),
		role:      cfg.Role,
		peer:      cfg.PeerAddr,
	}
}

// OnHandshakeStart returns a context and completion function for the
// exchange. The completion function records latency and ends the span.
func (o *HandshakeObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	spanName, kind := SpanHandshakeClient, SpanKindClient
	if o.role == "server" {
		spanName, kind = SpanHandshakeServer, SpanKindServer
	}

	o.collector.HandshakeStarted()
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, spanName,
		WithSpanKind(kind),
		WithAttributes(SpanAttributes{Role: o.role, PeerAddr: o.peer}.ToMap()),
	)

	o.logger.Debug("handshake started")

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.HandshakeEnded()
		o.collector.RecordHandshakeLatency(duration)

		if err != nil {
			o.logger.Debug("handshake ended with error", Fields{
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.logger.Debug("handshake ended", Fields{"duration": duration.String()})
		}

		endSpan(err)
	}
}

// OnPayloadSent records the local payload being sent.
func (o *HandshakeObserver) OnPayloadSent(size int, encodeTime time.Duration) {
	o.collector.RecordPayloadEncoded(size, encodeTime)
}

// OnAccepted records a compatible peer.
func (o *HandshakeObserver) OnAccepted(modules int) {
	o.collector.HandshakeAccepted()
	o.logger.Info("peer accepted", Fields{"modules": modules})
}

// OnRejected records a peer rejected for incompatibility.
func (o *HandshakeObserver) OnRejected(issues int, reason string) {
	o.collector.HandshakeRejected()
	o.logger.Warn("peer rejected", Fields{
		"issues": issues,
		"reason": reason,
	})
}

// OnFailed records an exchange that ended on I/O or protocol errors.
func (o *HandshakeObserver) OnFailed(err error) {
	o.collector.HandshakeFailed()
	o.logger.Error("handshake failed", Fields{"error": err.Error()})
}

// OnProtocolError records a malformed or unexpected frame.
func (o *HandshakeObserver) OnProtocolError(err error) {
	o.collector.RecordProtocolError()
	o.logger.Error("protocol error", Fields{"error": err.Error()})
}

// Logger returns the observer's logger.
func (o *HandshakeObserver) Logger() *Logger {
	return o.logger
}

// Collector returns the observer's collector.
func (o *HandshakeObserver) Collector() *Collector {
	return o.collector
}
