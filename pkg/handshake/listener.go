package handshake

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/pzverkov/modcompat/pkg/metrics"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// MaxPerPeer caps concurrent exchanges per remote host. Zero disables it.
	MaxPerPeer int

	// Rate and Burst bound new exchanges per second. Zero Rate disables it.
	Rate  float64
	Burst int

	// OnResult is called after every exchange, from the exchange goroutine.
	OnResult func(conn net.Conn, res *Result, err error)

	Logger    *metrics.Logger
	Collector *metrics.Collector
}

// Listener accepts connections and runs a server exchange on each.
type Listener struct {
	ln     net.Listener
	server *Server
	cfg    ListenerConfig
	peers  *PeerLimiter
	rate   *RateLimiter
	logger *metrics.Logger
	col    *metrics.Collector
	codec  *protocol.Codec

	wg     conc.WaitGroup
	closed atomic.Bool
}

// Listen announces on the network address and returns a listener serving
// exchanges with server.
func Listen(network, address string, server *Server, cfg ListenerConfig) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return NewListener(ln, server, cfg), nil
}

// NewListener wraps an existing net.Listener.
func NewListener(ln net.Listener, server *Server, cfg ListenerConfig) *Listener {
	if cfg.Logger == nil {
		cfg.Logger = metrics.GetLogger()
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.Global()
	}
	return &Listener{
		ln:     ln,
		server: server,
		cfg:    cfg,
		peers:  NewPeerLimiter(cfg.MaxPerPeer),
		rate:   NewRateLimiter(cfg.Rate, cfg.Burst),
		logger: cfg.Logger.Named("listener"),
		col:    cfg.Collector,
		codec:  protocol.NewCodec(),
	}
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, then waits for running exchanges. It returns nil on a clean stop.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.wg.Wait()

	l.logger.Info("accepting handshakes", metrics.Fields{
		"addr":     l.Addr().String(),
		"protocol": protocol.ProtocolID,
	})

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		host := remoteHost(conn)
		if !l.admit(conn, host) {
			continue
		}

		l.wg.Go(func() {
			defer l.peers.Release(host)
			defer conn.Close()

			res, err := l.server.Serve(ctx, conn)
			if l.cfg.OnResult != nil {
				l.cfg.OnResult(conn, res, err)
			}
		})
	}
}

// admit applies the rate and per-peer limits. A refused connection gets a
// fatal alert and is closed in the background.
func (l *Listener) admit(conn net.Conn, host string) bool {
	reason := ""
	switch {
	case !l.rate.Allow():
		reason = "handshake rate limit exceeded"
	case !l.peers.Acquire(host):
		reason = "connection limit exceeded"
	default:
		return true
	}

	l.col.RecordRateLimited()
	l.logger.Warn("connection refused", metrics.Fields{"peer": host, "reason": reason})
	// A slow peer must not hold up the accept loop.
	l.wg.Go(func() {
		sendAlert(l.codec, conn, protocol.AlertCodeInternalError, reason)
		_ = conn.Close()
	})
	return false
}

// Close stops accepting connections. Running exchanges are not interrupted.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.ln.Close()
}
