package handshake

import (
	"context"
	"net"
	"time"

	"github.com/pzverkov/modcompat/pkg/metrics"
)

// Observer provides hooks for exchange lifecycle, metrics and tracing.
// Implementations should be lightweight; callbacks run on the exchange path.
type Observer interface {
	OnHandshakeStart(ctx context.Context) (context.Context, func(error))
	OnPayloadSent(size int, encodeTime time.Duration)
	OnAccepted(modules int)
	OnRejected(issues int, reason string)
	OnFailed(err error)
	OnProtocolError(err error)
}

// ObserverFactory builds a per-connection observer.
type ObserverFactory func(role string, conn net.Conn) Observer

var _ Observer = (*metrics.HandshakeObserver)(nil)

// MetricsObserverFactory returns a factory producing metrics-backed
// observers that share one collector, tracer and logger.
func MetricsObserverFactory(collector *metrics.Collector, tracer metrics.Tracer, logger *metrics.Logger) ObserverFactory {
	return func(role string, conn net.Conn) Observer {
		var peer string
		if conn != nil && conn.RemoteAddr() != nil {
			peer = conn.RemoteAddr().String()
		}
		return metrics.NewHandshakeObserver(metrics.HandshakeObserverConfig{
			Collector: collector,
			Tracer:    tracer,
			Logger:    logger,
			Role:      role,
			PeerAddr:  peer,
		})
	}
}

type noopObserver struct{}

func (noopObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (noopObserver) OnPayloadSent(int, time.Duration) {}
func (noopObserver) OnAccepted(int)                   {}
func (noopObserver) OnRejected(int, string)           {}
func (noopObserver) OnFailed(error)                   {}
func (noopObserver) OnProtocolError(error)            {}

func observerFor(factory ObserverFactory, role string, rw interface{}) Observer {
	if factory == nil {
		return noopObserver{}
	}
	conn, _ := rw.(net.Conn)
	if o := factory(role, conn); o != nil {
		return o
	}
	return noopObserver{}
}
