package handshake

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerLimiter(t *testing.T) {
	l := NewPeerLimiter(2)
	host, other := "192.0.2.1", "192.0.2.2"

	assert.True(t, l.Acquire(host))
	assert.True(t, l.Acquire(host))
	assert.False(t, l.Acquire(host), "third exchange from one host")
	assert.True(t, l.Acquire(other))
	assert.Equal(t, 2, l.Active(host))

	l.Release(host)
	assert.True(t, l.Acquire(host))

	l.Release(other)
	l.Release(other)
	assert.Zero(t, l.Active(other))
}

func TestPeerLimiterDisabled(t *testing.T) {
	l := NewPeerLimiter(0)
	for _i := 0; _i < 100; _i++ {
		assert.True(t, l.Acquire("192.0.2.1"))
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newRateLimiter(2, 3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "burst token %d", i)
	}
	assert.False(t, l.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	now = now.Add(time.Hour)
	for _i := 0; _i < 3; _i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow(), "refill is capped at burst")
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0, 0)
	for _i := 0; _i < 100; _i++ {
		assert.True(t, l.Allow())
	}
}

func TestRemoteHost(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.Equal(t, "pipe", remoteHost(a))
}
