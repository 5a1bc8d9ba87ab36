package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenk/backoff"
	"github.com/gookit/color"
	"github.com/rs/dnscache"
	"github.com/spf13/cobra"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/handshake"
	"github.com/pzverkov/modcompat/pkg/metrics"
)

type connectOptions struct {
	retries     uint64
	retryDelay  time.Duration
	maxDelay    time.Duration
	dialTimeout time.Duration
}

func newConnectCmd(a *app) *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect <addr>",
		Short: "Run the client side of the version handshake against a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd.Context(), cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.Uint64Var(&opts.retries, "retries", 5, "dial attempts after the first failure")
	f.DurationVar(&opts.retryDelay, "retry-delay", 250*time.Millisecond, "initial delay between dial attempts")
	f.DurationVar(&opts.maxDelay, "retry-max-delay", 5*time.Second, "maximum delay between dial attempts")
	f.DurationVar(&opts.dialTimeout, "dial-timeout", 5*time.Second, "timeout of a single dial attempt")
	return cmd
}

func (a *app) connect(ctx context.Context, cmd *cobra.Command, addr string, opts *connectOptions) error {
	local, err := a.localVersionData()
	if err != nil {
		return err
	}
	client, err := handshake.NewClient(local, a.handshakeConfig())
	if err != nil {
		return err
	}

	conn, err := a.dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	res, err := client.Connect(ctx, conn)
	if res != nil && res.Peer != nil {
		color.Fprintf(out, "server runs <cyan>%s</> with <cyan>%d</> module(s)\n",
			res.Peer.GameVersion(), res.Peer.ModuleCount())
	}
	if err != nil {
		if qerrors.Is(err, qerrors.ErrHandshakeRejected) {
			color.Fprintf(out, "<red>rejected</> by %s\n", addr)
			if res != nil && res.Reason != "" {
				fmt.Fprintln(out, res.Reason)
			}
		}
		return err
	}

	color.Fprintf(out, "<green>accepted</> by %s\n", addr)
	return nil
}

// dial connects with exponential backoff between attempts. Host lookups go
// through a cache so retries do not re-query DNS.
func (a *app) dial(ctx context.Context, addr string, opts *connectOptions) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = opts.retryDelay
	expBackoff.MaxInterval = opts.maxDelay
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, opts.retries), ctx)
	dialer := &net.Dialer{Timeout: opts.dialTimeout}
	resolver := &dnscache.Resolver{}
	log := a.logger.Named("connect")

	var conn net.Conn
	err = backoff.RetryNotify(func() error {
		c, err := dialResolved(ctx, dialer, resolver, host, port)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}, policy, func(err error, wait time.Duration) {
		log.Warn("dial failed, retrying", metrics.Fields{
			"addr":  addr,
			"error": err.Error(),
			"wait":  wait.String(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func dialResolved(ctx context.Context, dialer *net.Dialer, resolver *dnscache.Resolver, host, port string) (net.Conn, error) {
	ips, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, lastErr
}
