package handshake

import (
	"net"
	"sync"
	"time"
)

// PeerLimiter caps concurrent exchanges per remote host.
type PeerLimiter struct {
	mu      sync.Mutex
	active  map[string]int
	maxPeer int
}

// NewPeerLimiter creates a limiter allowing maxPerPeer concurrent exchanges
// per host. Zero or less disables the limit.
func NewPeerLimiter(maxPerPeer int) *PeerLimiter {
	return &PeerLimiter{
		active:  make(map[string]int),
		maxPeer: maxPerPeer,
	}
}

// Acquire reserves a slot for host and reports whether one was free.
func (l *PeerLimiter) Acquire(host string) bool {
	if l.maxPeer <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[host] >= l.maxPeer {
		return false
	}
	l.active[host]++
	return true
}

// Release frees a slot reserved by Acquire.
func (l *PeerLimiter) Release(host string) {
	if l.maxPeer <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[host] > 0 {
		l.active[host]--
		if l.active[host] == 0 {
			delete(l.active, host)
		}
	}
}

// Active returns the number of exchanges in progress for host.
func (l *PeerLimiter) Active(host string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[host]
}

// RateLimiter bounds the rate of new exchanges with a token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter admitting rate exchanges per second with
// the given burst. A rate of zero or less disables the limit.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

func newRateLimiter(rate float64, burst int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes a token and reports whether one was available.
func (l *RateLimiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens = min(l.tokens+now.Sub(l.lastRefill).Seconds()*l.rate, float64(l.burst))
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// remoteHost extracts the host part of a connection's remote address.
func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
