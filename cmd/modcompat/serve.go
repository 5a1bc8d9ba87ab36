package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/handshake"
	"github.com/pzverkov/modcompat/pkg/manifest"
	"github.com/pzverkov/modcompat/pkg/metrics"
	pkgversion "github.com/pzverkov/modcompat/pkg/version"
)

type serveOptions struct {
	maxPerPeer int
	rate       float64
	burst      int
	watch      bool

	// ready, when set, receives the bound address once the listener is up.
	ready func(net.Addr)
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer version handshakes with the local mod set",
		Long: `Serve accepts TCP connections and runs the version handshake on each,
accepting clients whose mod set is compatible with the local one. With
--watch the manifest is reloaded when it changes; clients connecting after
a reload are checked against the new set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.String("listen", ":2457", "handshake listen address")
	f.String("metrics-addr", "", "observability server address (/metrics, /health); empty disables")
	f.IntVar(&opts.maxPerPeer, "max-per-peer", 4, "concurrent handshakes per remote host; 0 disables")
	f.Float64Var(&opts.rate, "rate", 50, "new handshakes per second; 0 disables")
	f.IntVar(&opts.burst, "burst", 100, "handshake burst size")
	f.BoolVarP(&opts.watch, "watch", "w", false, "reload the manifest when it changes")

	a.bind(f, map[string]string{
		"serve.addr":   "listen",
		"metrics.addr": "metrics-addr",
	})
	return cmd
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	local, err := a.localVersionData()
	if err != nil {
		return err
	}

	server, err := handshake.NewServer(local, a.handshakeConfig())
	if err != nil {
		return err
	}

	log := a.logger.Named("serve")
	ln, err := handshake.Listen("tcp", a.v.GetString("serve.addr"), server, handshake.ListenerConfig{
		MaxPerPeer: opts.maxPerPeer,
		Rate:       opts.rate,
		Burst:      opts.burst,
		Logger:     a.logger,
		Collector:  a.collector,
		OnResult: func(conn net.Conn, res *handshake.Result, err error) {
			logResult(log, conn, res, err)
		},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ln.Serve(gctx) })

	if addr := a.v.GetString("metrics.addr"); addr != "" {
		obs := metrics.NewServer(metrics.ServerConfig{
			Collector: a.collector,
			Logger:    a.logger,
			Version:   pkgversion.String(),
		})
		obs.AddCheck("local_mod_set", func(context.Context) error {
			if !server.Local().IsSupportedDataLayout() {
				return errors.New("local mod set has an unsupported layout")
			}
			return nil
		})
		g.Go(func() error { return obs.ListenAndServe(gctx, addr) })
		color.Fprintf(cmd.OutOrStdout(), "observability on <cyan>%s</> (metrics: /metrics, health: /health)\n", addr)
	}

	if opts.watch {
		pattern := a.v.GetString("manifest")
		if pattern == "" {
			_ = ln.Close()
			return errors.New("--watch needs a manifest")
		}
		w, err := manifest.NewWatcher(pattern,
			manifest.WithOverlay(a.overlay()),
			manifest.WithWatchLogger(a.logger),
		)
		if err != nil {
			_ = ln.Close()
			return err
		}
		defer w.Close()

		g.Go(func() error {
			return w.Run(gctx, func(vd *compat.VersionData) {
				if err := server.SetLocal(vd); err != nil {
					log.Error("reloaded mod set rejected", metrics.Fields{"error": err.Error()})
					return
				}
				color.Fprintf(cmd.OutOrStdout(), "mod set reloaded: <cyan>%d</> module(s)\n", vd.ModuleCount())
			})
		})
	}

	color.Fprintf(cmd.OutOrStdout(), "serving <green>%s</> with <cyan>%d</> module(s) on <cyan>%s</>\n",
		local.GameVersion(), local.ModuleCount(), ln.Addr())
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}

	return g.Wait()
}

func logResult(log *metrics.Logger, conn net.Conn, res *handshake.Result, err error) {
	fields := metrics.Fields{"peer": conn.RemoteAddr().String()}
	if res != nil && res.Peer != nil {
		fields["peer_version"] = res.Peer.GameVersion().String()
		fields["peer_modules"] = res.Peer.ModuleCount()
	}

	switch {
	case err == nil:
		log.Info("client accepted", fields)
	case res != nil && res.Report != nil && !res.Report.Compatible():
		fields["issues"] = len(res.Report.Issues)
		log.Info("client rejected", fields)
		log.Debug(fmt.Sprintf("rejection report:\n%s", res.Report), fields)
	default:
		fields["error"] = err.Error()
		log.Warn("handshake failed", fields)
	}
}
