package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/handshake"
	"github.com/pzverkov/modcompat/pkg/manifest"
	"github.com/pzverkov/modcompat/pkg/metrics"
)

func newEncodeCmd(a *app) *cobra.Command {
	var out string
	var asHex bool

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode the local mod set into a version payload",
		Long: `Encode builds the version payload from the configured manifest and game
settings. The payload is written to --out, or printed as hex.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vd, err := a.localVersionData()
			if err != nil {
				return err
			}
			data, err := vd.Encode()
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				if asHex || out == "" {
					fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
					return nil
				}
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			if asHex {
				data = []byte(hex.EncodeToString(data) + "\n")
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			a.logger.Info("payload written", metrics.Fields{
				"path":    out,
				"bytes":   len(data),
				"modules": vd.ModuleCount(),
			})
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; - writes raw bytes to stdout")
	cmd.Flags().BoolVar(&asHex, "hex", false, "write hex instead of raw bytes")
	return cmd
}

func newDecodeCmd(a *app) *cobra.Command {
	var asHex bool

	cmd := &cobra.Command{
		Use:   "decode <payload|->",
		Short: "Decode a version payload and print its mod set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), args[0], asHex)
			if err != nil {
				return err
			}
			vd, err := compat.DecodeVersionData(data, compat.WithLogger(a.logger), compat.WithCollector(a.collector))
			if err != nil && !qerrors.Is(err, qerrors.ErrUnsupportedLayout) {
				return err
			}
			printVersionData(cmd.OutOrStdout(), vd, len(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asHex, "hex", false, "input is hex encoded")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var server, client string
	var asHex bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare a server and a client mod set",
		Long: `Check compares two mod sets the way a server does during the handshake.
Each side is a manifest (.toml file or glob) or a payload file. A side left
out uses the local mod set. The command fails when the sets are
incompatible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sv, err := a.loadSide(cmd, server, asHex)
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			cv, err := a.loadSide(cmd, client, asHex)
			if err != nil {
				return fmt.Errorf("client: %w", err)
			}

			checker := handshake.NewChecker(handshake.WithCacheSize(0), handshake.WithCheckerCollector(a.collector))
			report, err := checker.Check(sv, cv)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if !report.Compatible() {
				return fmt.Errorf("%w: %d issue(s)", qerrors.ErrIncompatible, len(report.Issues))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server manifest or payload")
	cmd.Flags().StringVar(&client, "client", "", "client manifest or payload")
	cmd.Flags().BoolVar(&asHex, "hex", false, "payload files are hex encoded")
	return cmd
}

// loadSide resolves a check operand: empty is the local set, a .toml path
// or glob is a manifest, anything else is a payload file.
func (a *app) loadSide(cmd *cobra.Command, operand string, asHex bool) (*compat.VersionData, error) {
	switch {
	case operand == "":
		return a.localVersionData()
	case strings.HasSuffix(operand, ".toml") || strings.ContainsAny(operand, "*?[{"):
		return manifest.LoadVersionData(operand)
	}

	data, err := readPayload(cmd.InOrStdin(), operand, asHex)
	if err != nil {
		return nil, err
	}
	vd, err := compat.DecodeVersionData(data, compat.WithLogger(a.logger), compat.WithCollector(a.collector))
	if err != nil && !qerrors.Is(err, qerrors.ErrUnsupportedLayout) {
		return nil, err
	}
	return vd, nil
}

func readPayload(stdin io.Reader, path string, asHex bool) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	if !asHex {
		return data, nil
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("hex payload: %w", err)
	}
	return decoded, nil
}

func printVersionData(w io.Writer, vd *compat.VersionData, size int) {
	color.Fprintf(w, "<cyan>layout</>       %d\n", vd.DataLayout())
	color.Fprintf(w, "<cyan>size</>         %d bytes\n", size)
	if !vd.IsSupportedDataLayout() {
		color.Fprintf(w, "<yellow>unsupported data layout, the payload cannot be compared</>\n")
	} else if fp, err := vd.Fingerprint(); err == nil {
		color.Fprintf(w, "<cyan>fingerprint</>  %s\n", hex.EncodeToString(fp[:]))
	}
	fmt.Fprint(w, vd.Format(true))
}

func printReport(w io.Writer, r *handshake.Report) {
	if r.Compatible() {
		color.Fprintf(w, "<green>compatible</>\n")
		return
	}
	color.Fprintf(w, "<red>incompatible mod set</> (%d issue(s))\n", len(r.Issues))
	for _, issue := range r.Issues {
		color.Fprintf(w, "  <yellow>%-22s</> ", issue.Kind)
		fmt.Fprintln(w, issue.String())
	}
}
