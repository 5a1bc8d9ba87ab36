package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pzverkov/modcompat/internal/constants"
	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/handshake"
	"github.com/pzverkov/modcompat/pkg/manifest"
	"github.com/pzverkov/modcompat/pkg/metrics"
	pkgversion "github.com/pzverkov/modcompat/pkg/version"
)

const envPrefix = "MODCOMPAT"

// app carries the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string

	logger    *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "modcompat",
		Short: "Mod compatibility payloads and handshakes",
		Long: `modcompat builds the mod compatibility payload a game server and its
clients exchange on connect, decodes captured payloads, compares two mod
sets and runs the version handshake over TCP.

Settings are read from modcompat.toml (current directory or the user
config directory), MODCOMPAT_* environment variables and flags, with flags
taking precedence.`,
		Example: `  modcompat encode --manifest 'BepInEx/plugins/**/mods.toml' -o payload.bin
  modcompat decode payload.bin
  modcompat check --server server.bin --client mods.toml
  modcompat serve --manifest mods.toml --listen :2457 --watch
  modcompat connect localhost:2457 --manifest mods.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./modcompat.toml)")
	pf.StringP("manifest", "m", "", "mod manifest file or doublestar glob")
	pf.String("game-version", "", "game version; must agree with the manifest when both set it")
	pf.Uint32("network-version", 0, "network protocol version; must agree with the manifest")
	pf.String("version-string", "", "display version string; must agree with the manifest")
	pf.String("log-level", "warn", "log level: debug, info, warn, error, silent")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("tracing", "none", "tracing mode: none, simple, otel (requires -tags otel)")
	pf.Duration("timeout", constants.DefaultHandshakeTimeoutSeconds*time.Second, "handshake timeout")
	pf.Bool("no-color", false, "disable colored output")

	a.bind(pf, map[string]string{
		"manifest":          "manifest",
		"game_version":      "game-version",
		"network_version":   "network-version",
		"version_string":    "version-string",
		"log.level":         "log-level",
		"log.format":        "log-format",
		"tracing":           "tracing",
		"handshake.timeout": "timeout",
		"no_color":          "no-color",
	})

	root.AddCommand(
		newEncodeCmd(a),
		newDecodeCmd(a),
		newCheckCmd(a),
		newServeCmd(a),
		newConnectCmd(a),
		newVersionCmd(),
	)
	return root
}

// bind maps config keys to flags.
func (a *app) bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := a.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", key, err))
		}
	}
}

func (a *app) init(cmd *cobra.Command) error {
	if err := a.readConfig(); err != nil {
		return err
	}

	if a.v.GetBool("no_color") {
		color.Enable = false
	}

	if level := metrics.ParseLevel(a.v.GetString("log.level")); level == metrics.LevelSilent {
		a.logger = metrics.NullLogger()
	} else {
		a.logger = metrics.NewLogger(
			metrics.WithOutput(cmd.ErrOrStderr()),
			metrics.WithLevel(level),
			metrics.WithFormat(metrics.ParseFormat(a.v.GetString("log.format"))),
			metrics.WithFields(metrics.Fields{"app": "modcompat"}),
		)
	}
	metrics.SetLogger(a.logger)

	switch mode := strings.ToLower(a.v.GetString("tracing")); mode {
	case "", "none":
		a.tracer = metrics.NoOpTracer{}
	case "simple":
		a.tracer = metrics.NewSimpleTracer()
	case "otel":
		if !metrics.OTelEnabled() {
			return errors.New("otel tracing not enabled (build with -tags otel)")
		}
		a.tracer = metrics.NewOTelTracer("modcompat", pkgversion.String())
	default:
		return fmt.Errorf("invalid tracing mode: %s (use none, simple, or otel)", mode)
	}
	metrics.SetTracer(a.tracer)

	a.collector = metrics.NewCollector(metrics.Labels{"service": "modcompat"})
	metrics.SetGlobal(a.collector)
	return nil
}

func (a *app) readConfig() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
		return nil
	}

	a.v.SetConfigName("modcompat")
	a.v.SetConfigType("toml")
	a.v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(dir, "modcompat"))
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// overlay holds the game settings given by config, environment or flags.
func (a *app) overlay() *manifest.Manifest {
	return &manifest.Manifest{
		GameVersion:    a.v.GetString("game_version"),
		VersionString:  a.v.GetString("version_string"),
		NetworkVersion: a.v.GetUint32("network_version"),
		Source:         "settings",
	}
}

// localVersionData builds the local payload from the configured manifest
// and the game settings overlay.
func (a *app) localVersionData() (*compat.VersionData, error) {
	base := &manifest.Manifest{}
	if pattern := a.v.GetString("manifest"); pattern != "" {
		m, err := manifest.Load(pattern)
		if err != nil {
			return nil, err
		}
		base = m
	}

	m, err := manifest.Merge(base, a.overlay())
	if err != nil {
		return nil, err
	}
	return m.VersionData()
}

func (a *app) handshakeConfig() handshake.Config {
	return handshake.Config{
		Timeout:         a.v.GetDuration("handshake.timeout"),
		ObserverFactory: handshake.MetricsObserverFactory(a.collector, a.tracer, a.logger),
		Logger:          a.logger,
		Collector:       a.collector,
		Tracer:          a.tracer,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "modcompat version %s\n", getVersion())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
		},
	}
}

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}
