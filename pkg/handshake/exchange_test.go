package handshake

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/metrics"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

type exchangeResult struct {
	res *Result
	err error
}

func testConfig(col *metrics.Collector, tracer metrics.Tracer) Config {
	logger := metrics.NullLogger()
	return Config{
		Timeout:         5 * time.Second,
		ObserverFactory: MetricsObserverFactory(col, tracer, logger),
		Logger:          logger,
		Collector:       col,
		Tracer:          tracer,
	}
}

// runExchange runs a server and a client over a pipe and returns both results.
func runExchange(t *testing.T, server, client *compat.VersionData, cfg Config) (exchangeResult, exchangeResult) {
	t.Helper()

	srv, err := NewServer(server, cfg)
	require.NoError(t, err)
	cli, err := NewClient(client, cfg)
	require.NoError(t, err)

	sConn, cConn := net.Pipe()
	defer sConn.Close()
	defer cConn.Close()

	done := make(chan exchangeResult, 1)
	go func() {
		res, err := srv.Serve(context.Background(), sConn)
		done <- exchangeResult{res, err}
	}()

	res, err := cli.Connect(context.Background(), cConn)
	return <-done, exchangeResult{res, err}
}

func TestExchangeAccept(t *testing.T) {
	col := metrics.NewCollector(nil)
	tracer := metrics.NewSimpleTracer()
	vd := versionData(t, 34, jotunn(t, "2.20.1"))

	s, c := runExchange(t, vd, versionData(t, 34, jotunn(t, "2.20.1")), testConfig(col, tracer))

	require.NoError(t, s.err)
	require.NoError(t, c.err)
	assert.True(t, s.res.Accepted)
	assert.True(t, c.res.Accepted)
	assert.True(t, c.res.Report.Compatible())
	assert.True(t, c.res.Peer.Equal(vd))

	snap := col.Snapshot()
	assert.Equal(t, uint64(2), snap.HandshakesTotal)
	assert.Equal(t, uint64(2), snap.HandshakesAccepted)
	assert.Zero(t, snap.HandshakesActive)
	assert.Equal(t, uint64(2), snap.PayloadsEncoded)
	assert.Equal(t, uint64(2), snap.PayloadsDecoded)
	assert.Equal(t, uint64(1), snap.ChecksTotal)

	var names []string
	for _, span := range tracer.Spans() {
		names = append(names, span.Name)
	}
	assert.Contains(t, names, metrics.SpanHandshakeServer)
	assert.Contains(t, names, metrics.SpanHandshakeClient)
	assert.Contains(t, names, metrics.SpanCompare)
}

func TestExchangeReject(t *testing.T) {
	col := metrics.NewCollector(nil)
	server := versionData(t, 34, jotunn(t, "2.20.1"))
	client := versionData(t, 34)

	s, c := runExchange(t, server, client, testConfig(col, metrics.NoOpTracer{}))

	require.ErrorIs(t, s.err, qerrors.ErrIncompatible)
	require.ErrorIs(t, c.err, qerrors.ErrHandshakeRejected)
	assert.False(t, s.res.Accepted)
	assert.False(t, c.res.Accepted)
	assert.Contains(t, c.res.Reason, "client is missing Jotunn 2.20.1")
	assert.Equal(t, s.res.Reason, c.res.Reason)
	assert.Equal(t, []IssueKind{IssueMissingOnClient}, kinds(c.res.Report))

	snap := col.Snapshot()
	assert.Equal(t, uint64(2), snap.HandshakesRejected)
	assert.Equal(t, uint64(1), snap.MissingModules)
}

func TestServeUnsupportedClientLayout(t *testing.T) {
	srv, err := NewServer(versionData(t, 0), testConfig(metrics.NewCollector(nil), nil))
	require.NoError(t, err)

	sConn, cConn := net.Pipe()
	defer sConn.Close()
	defer cConn.Close()

	done := make(chan exchangeResult, 1)
	go func() {
		res, err := srv.Serve(context.Background(), sConn)
		done <- exchangeResult{res, err}
	}()

	codec := protocol.NewCodec()
	_, err = codec.ReadMessage(cConn)
	require.NoError(t, err)

	msg, err := codec.EncodeVersionInfo(&protocol.VersionInfo{Version: protocol.Current, Payload: unsupportedPayload(t)})
	require.NoError(t, err)
	_, err = cConn.Write(msg)
	require.NoError(t, err)

	verdict, err := codec.ReadMessage(cConn)
	require.NoError(t, err)
	reason, err := codec.DecodeReject(verdict)
	require.NoError(t, err)
	assert.Contains(t, reason, "unsupported module data layout")

	r := <-done
	require.ErrorIs(t, r.err, qerrors.ErrIncompatible)
	assert.Equal(t, 1, r.res.Report.Count(IssueUnsupportedLayout))
}

// fakeServer writes frames to the client and returns what the client sends
// back after the first frame.
func fakeServer(t *testing.T, conn net.Conn, frames ...[]byte) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		codec := protocol.NewCodec()
		for _, f := range frames {
			if _, err := conn.Write(f); err != nil {
				return
			}
		}
		msg, err := codec.ReadMessage(conn)
		if err != nil {
			return
		}
		out <- msg
	}()
	return out
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := testConfig(metrics.NewCollector(nil), nil)
	cfg.Timeout = time.Second
	c, err := NewClient(versionData(t, 0), cfg)
	require.NoError(t, err)
	return c
}

func TestConnectMalformedPayload(t *testing.T) {
	sConn, cConn := net.Pipe()
	defer sConn.Close()
	defer cConn.Close()

	codec := protocol.NewCodec()
	msg, err := codec.EncodeVersionInfo(&protocol.VersionInfo{Version: protocol.Current, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)
	reply := fakeServer(t, sConn, msg)

	_, err = newTestClient(t).Connect(context.Background(), cConn)
	require.ErrorIs(t, err, qerrors.ErrMalformedStream)

	var de *qerrors.DecodeError
	assert.ErrorAs(t, err, &de)

	alert, err := codec.DecodeAlert(<-reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.AlertCodeMalformedPayload, alert.Code)
}

func TestConnectUnexpectedMessage(t *testing.T) {
	sConn, cConn := net.Pipe()
	defer sConn.Close()
	defer cConn.Close()

	codec := protocol.NewCodec()
	reply := fakeServer(t, sConn, codec.EncodeAccept())

	_, err := newTestClient(t).Connect(context.Background(), cConn)
	require.ErrorIs(t, err, qerrors.ErrUnexpectedMessage)

	var pe *qerrors.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "server version", pe.Phase)

	alert, err := codec.DecodeAlert(<-reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.AlertCodeUnexpectedMessage, alert.Code)
}

func TestConnectPeerAlert(t *testing.T) {
	sConn, cConn := net.Pipe()
	defer sConn.Close()
	defer cConn.Close()

	codec := protocol.NewCodec()
	fakeServer(t, sConn, codec.EncodeAlert(protocol.AlertLevelFatal, protocol.AlertCodeInternalError, "busy"))

	_, err := newTestClient(t).Connect(context.Background(), cConn)

	var ae *AlertError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, protocol.AlertCodeInternalError, ae.Code)
	assert.Equal(t, "alert (fatal): busy", ae.Error())
}

func TestConnectCancelled(t *testing.T) {
	_, cConn := net.Pipe()
	defer cConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := newTestClient(t).Connect(ctx, cConn)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConnectTimeout(t *testing.T) {
	_, cConn := net.Pipe()
	defer cConn.Close()

	c := newTestClient(t)
	c.cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := c.Connect(context.Background(), cConn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestServerSetLocal(t *testing.T) {
	srv, err := NewServer(versionData(t, 1), Config{})
	require.NoError(t, err)

	next := versionData(t, 2)
	require.NoError(t, srv.SetLocal(next))
	assert.Same(t, next, srv.Local())

	assert.ErrorIs(t, srv.SetLocal(nil), qerrors.ErrInvalidState)
	assert.Same(t, next, srv.Local())

	_, err = NewServer(nil, Config{})
	assert.ErrorIs(t, err, qerrors.ErrInvalidState)
	_, err = NewClient(nil, Config{})
	assert.ErrorIs(t, err, qerrors.ErrInvalidState)
}

func TestExchangeWithoutObserver(t *testing.T) {
	vd := versionData(t, 0)
	s, c := runExchange(t, vd, vd, Config{Logger: metrics.NullLogger()})
	require.NoError(t, s.err)
	require.NoError(t, c.err)
}
