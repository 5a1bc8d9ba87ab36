package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/pzverkov/modcompat/internal/constants"
	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/metrics"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

// Exchange roles, as reported to observers.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// alertTimeout bounds the write of a best-effort alert after a failure.
const alertTimeout = 2 * time.Second

// Config configures both sides of the exchange.
type Config struct {
	// Timeout bounds the whole exchange when ctx carries no deadline.
	// Zero means no timeout.
	Timeout time.Duration

	// Checker compares peers on the server side. A private checker is
	// created when nil.
	Checker *Checker

	// ObserverFactory builds a per-exchange observer. Nil disables hooks.
	ObserverFactory ObserverFactory

	// Logger and Collector receive payload decode reports. The global
	// logger is used when Logger is nil.
	Logger    *metrics.Logger
	Collector *metrics.Collector

	// Tracer records encode, decode and compare spans. The global tracer
	// is used when nil.
	Tracer metrics.Tracer
}

func (c Config) tracer() metrics.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return metrics.GetTracer()
}

// DefaultConfig returns a configuration with the default timeout and
// metrics-backed observers on the global collector.
func DefaultConfig() Config {
	return Config{
		Timeout:         constants.DefaultHandshakeTimeoutSeconds * time.Second,
		ObserverFactory: MetricsObserverFactory(nil, nil, nil),
	}
}

func (c Config) decodeOptions() []compat.DecodeOption {
	opts := []compat.DecodeOption{}
	if c.Logger != nil {
		opts = append(opts, compat.WithLogger(c.Logger))
	}
	if c.Collector != nil {
		opts = append(opts, compat.WithCollector(c.Collector))
	}
	return opts
}

// Result describes a finished exchange.
type Result struct {
	// Peer is the decoded peer payload; it may be partial when decoding
	// reported an unsupported layout.
	Peer *compat.VersionData

	// Report is the comparison with the server's data as the reference.
	// The client computes it locally for diagnostics.
	Report *Report

	// Accepted reports the verdict.
	Accepted bool

	// Reason is the rejection text sent by the server.
	Reason string
}

// AlertError is returned when the peer aborts the exchange with an alert.
type AlertError struct {
	Level       protocol.AlertLevel
	Code        protocol.AlertCode
	Description string
}

func (e *AlertError) Error() string {
	prefix := "alert (warning): "
	if e.Level == protocol.AlertLevelFatal {
		prefix = "alert (fatal): "
	}
	if e.Description != "" {
		return prefix + e.Description
	}
	return fmt.Sprintf("%scode %d", prefix, e.Code)
}

// --- Server ---

// Server answers version exchanges with the local mod set. The local data
// may be swapped while exchanges are running.
type Server struct {
	cfg     Config
	codec   *protocol.Codec
	checker *Checker
	local   atomic.Pointer[compat.VersionData]
}

// NewServer creates a server advertising local.
func NewServer(local *compat.VersionData, cfg Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		codec:   protocol.NewCodec(),
		checker: cfg.Checker,
	}
	if s.checker == nil {
		s.checker = NewChecker(WithCheckerCollector(cfg.Collector))
	}
	if err := s.SetLocal(local); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLocal replaces the advertised mod set for subsequent exchanges.
func (s *Server) SetLocal(local *compat.VersionData) error {
	if local == nil {
		return fmt.Errorf("%w: nil version data", qerrors.ErrInvalidState)
	}
	if _, err := local.Encode(); err != nil {
		return err
	}
	s.local.Store(local)
	return nil
}

// Local returns the advertised mod set.
func (s *Server) Local() *compat.VersionData {
	return s.local.Load()
}

// Checker returns the server's checker.
func (s *Server) Checker() *Checker {
	return s.checker
}

// Serve runs one exchange as the server. An incompatible client is sent a
// Reject and the returned error wraps ErrIncompatible.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) (res *Result, err error) {
	obs := observerFor(s.cfg.ObserverFactory, RoleServer, rw)
	ctx, done := obs.OnHandshakeStart(ctx)
	defer func() { done(err) }()

	restore := applyDeadline(ctx, rw, s.cfg.Timeout)
	defer restore()
	defer func() { err = contextError(ctx, err) }()

	local := s.Local()
	if err := sendVersionInfo(ctx, s.cfg.tracer(), s.codec, rw, local, obs); err != nil {
		obs.OnFailed(err)
		return nil, err
	}

	peer, err := readVersionInfo(ctx, s.codec, rw, "client version", s.cfg, obs)
	if err != nil {
		return nil, err
	}

	_, span := s.cfg.tracer().StartSpan(ctx, metrics.SpanCompare, metrics.WithAttributes(metrics.SpanAttributes{
		Modules: peer.ModuleCount(),
	}.ToMap()))
	report, err := s.checker.Check(local, peer)
	span(err)
	if err != nil {
		sendAlert(s.codec, rw, protocol.AlertCodeInternalError, "comparison failed")
		obs.OnFailed(err)
		return nil, err
	}

	res = &Result{Peer: peer, Report: report, Accepted: report.Compatible()}
	if res.Accepted {
		if err := s.codec.WriteAccept(rw); err != nil {
			obs.OnFailed(err)
			return res, err
		}
		obs.OnAccepted(peer.ModuleCount())
		return res, nil
	}

	res.Reason = report.String()
	if err := s.codec.WriteReject(rw, res.Reason); err != nil {
		obs.OnFailed(err)
		return res, err
	}
	obs.OnRejected(len(report.Issues), res.Reason)
	return res, fmt.Errorf("%w: %d issue(s)", qerrors.ErrIncompatible, len(report.Issues))
}

// --- Client ---

// Client connects to a server with the local mod set.
type Client struct {
	cfg   Config
	codec *protocol.Codec
	local *compat.VersionData
}

// NewClient creates a client advertising local.
func NewClient(local *compat.VersionData, cfg Config) (*Client, error) {
	if local == nil {
		return nil, fmt.Errorf("%w: nil version data", qerrors.ErrInvalidState)
	}
	if _, err := local.Encode(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, codec: protocol.NewCodec(), local: local}, nil
}

// Connect runs one exchange as the client. A rejection returns the result
// with the server's reason and an error wrapping ErrHandshakeRejected.
func (c *Client) Connect(ctx context.Context, rw io.ReadWriter) (res *Result, err error) {
	obs := observerFor(c.cfg.ObserverFactory, RoleClient, rw)
	ctx, done := obs.OnHandshakeStart(ctx)
	defer func() { done(err) }()

	restore := applyDeadline(ctx, rw, c.cfg.Timeout)
	defer restore()
	defer func() { err = contextError(ctx, err) }()

	peer, err := readVersionInfo(ctx, c.codec, rw, "server version", c.cfg, obs)
	if err != nil {
		return nil, err
	}
	res = &Result{Peer: peer, Report: Compare(peer, c.local)}

	if err := sendVersionInfo(ctx, c.cfg.tracer(), c.codec, rw, c.local, obs); err != nil {
		obs.OnFailed(err)
		return res, err
	}

	msg, msgType, err := readFrame(c.codec, rw, "verdict", obs)
	if err != nil {
		return res, err
	}

	switch msgType {
	case protocol.MessageTypeAccept:
		res.Accepted = true
		obs.OnAccepted(peer.ModuleCount())
		return res, nil
	case protocol.MessageTypeReject:
		reason, err := c.codec.DecodeReject(msg)
		if err != nil {
			err = qerrors.NewProtocolError("verdict", err)
			obs.OnProtocolError(err)
			obs.OnFailed(err)
			return res, err
		}
		res.Reason = reason
		obs.OnRejected(len(res.Report.Issues), reason)
		return res, fmt.Errorf("%w: %s", qerrors.ErrHandshakeRejected, reason)
	default:
		return res, unexpected(c.codec, rw, "verdict", msgType, obs)
	}
}

// --- Frame helpers ---

func sendVersionInfo(ctx context.Context, tracer metrics.Tracer, codec *protocol.Codec, w io.Writer, vd *compat.VersionData, obs Observer) error {
	_, span := tracer.StartSpan(ctx, metrics.SpanEncode, metrics.WithAttributes(metrics.SpanAttributes{
		Modules:    vd.ModuleCount(),
		DataLayout: vd.DataLayout(),
	}.ToMap()))
	start := time.Now()
	payload, err := vd.Encode()
	span(err)
	if err != nil {
		return err
	}

	if err := codec.WriteVersionInfo(w, &protocol.VersionInfo{Version: protocol.Current, Payload: payload}); err != nil {
		return err
	}
	obs.OnPayloadSent(len(payload), time.Since(start))
	return nil
}

// readVersionInfo reads and decodes the peer's payload. Decode errors other
// than an unsupported layout abort the exchange with a fatal alert.
func readVersionInfo(ctx context.Context, codec *protocol.Codec, rw io.ReadWriter, phase string, cfg Config, obs Observer) (*compat.VersionData, error) {
	msg, msgType, err := readFrame(codec, rw, phase, obs)
	if err != nil {
		return nil, err
	}
	if msgType != protocol.MessageTypeVersionInfo {
		return nil, unexpected(codec, rw, phase, msgType, obs)
	}

	info, err := codec.DecodeVersionInfo(msg)
	if err != nil {
		err = qerrors.NewProtocolError(phase, err)
		code := protocol.AlertCodeUnexpectedMessage
		if qerrors.Is(err, qerrors.ErrUnsupportedVersion) {
			code = protocol.AlertCodeUnsupportedVersion
		}
		sendAlert(codec, rw, code, err.Error())
		obs.OnProtocolError(err)
		obs.OnFailed(err)
		return nil, err
	}

	_, span := cfg.tracer().StartSpan(ctx, metrics.SpanDecode, metrics.WithAttributes(metrics.SpanAttributes{
		PayloadBytes: len(info.Payload),
	}.ToMap()))
	peer, err := compat.DecodeVersionData(info.Payload, cfg.decodeOptions()...)
	span(err)
	if err != nil && !qerrors.Is(err, qerrors.ErrUnsupportedLayout) {
		sendAlert(codec, rw, protocol.AlertCodeMalformedPayload, "could not decode version data")
		obs.OnFailed(err)
		return nil, err
	}
	return peer, nil
}

// readFrame reads one framed message; a peer alert is returned as an
// *AlertError.
func readFrame(codec *protocol.Codec, r io.Reader, phase string, obs Observer) ([]byte, protocol.MessageType, error) {
	msg, err := codec.ReadMessage(r)
	if err != nil {
		if qerrors.Is(err, qerrors.ErrMessageTooLarge) {
			err = qerrors.NewProtocolError(phase, err)
			obs.OnProtocolError(err)
		}
		obs.OnFailed(err)
		return nil, 0, err
	}

	msgType, _ := codec.GetMessageType(msg)
	if msgType == protocol.MessageTypeAlert {
		alert, err := codec.DecodeAlert(msg)
		if err != nil {
			err = qerrors.NewProtocolError(phase, err)
			obs.OnProtocolError(err)
			obs.OnFailed(err)
			return nil, 0, err
		}
		aerr := &AlertError{Level: alert.Level, Code: alert.Code, Description: alert.Description}
		obs.OnFailed(aerr)
		return nil, 0, aerr
	}
	return msg, msgType, nil
}

func unexpected(codec *protocol.Codec, w io.Writer, phase string, got protocol.MessageType, obs Observer) error {
	err := qerrors.NewProtocolError(phase, fmt.Errorf("%w: %s", qerrors.ErrUnexpectedMessage, got))
	sendAlert(codec, w, protocol.AlertCodeUnexpectedMessage, err.Error())
	obs.OnProtocolError(err)
	obs.OnFailed(err)
	return err
}

// sendAlert writes a fatal alert, ignoring failures.
func sendAlert(codec *protocol.Codec, w io.Writer, code protocol.AlertCode, desc string) {
	if conn, ok := w.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = conn.SetWriteDeadline(time.Now().Add(alertTimeout))
	}
	_ = codec.WriteAlert(w, protocol.AlertLevelFatal, code, desc)
}

// --- Deadlines ---

type deadliner interface {
	SetDeadline(t time.Time) error
}

// applyDeadline sets the connection deadline from ctx, or from timeout when
// ctx has none, and interrupts blocked I/O when ctx is cancelled. The
// returned function clears the deadline.
func applyDeadline(ctx context.Context, rw io.ReadWriter, timeout time.Duration) func() {
	conn, ok := rw.(deadliner)
	if !ok {
		return func() {}
	}

	deadline, has := ctx.Deadline()
	if !has && timeout > 0 {
		deadline, has = time.Now().Add(timeout), true
	}
	if has {
		_ = conn.SetDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}
}

// contextError maps I/O failures caused by cancellation or deadlines to
// ctx.Err or ErrTimeout.
func contextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", qerrors.ErrTimeout, err)
	}
	return err
}
