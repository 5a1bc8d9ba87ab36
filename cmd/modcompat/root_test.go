package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
)

const serverMods = `
game_version    = "0.217.46"
network_version = 34

[[mod]]
guid          = "com.jotunn.jotunnlib"
name          = "Jotunn"
version       = "2.20.1"
compatibility = "EveryoneMustHaveMod"
strictness    = "Minor"
`

const clientMods = `
game_version    = "0.217.46"
network_version = 34
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// run executes the CLI with a private config file and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfg := writeFile(t, t.TempDir(), "modcompat.toml", "[log]\nlevel = \"silent\"\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--no-color", "--config", cfg}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)

	err := root.Execute()
	return out.String(), err
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	mods := writeFile(t, dir, "mods.toml", serverMods)
	payload := filepath.Join(dir, "payload.bin")

	_, err := run(t, "", "encode", "--manifest", mods, "-o", payload)
	require.NoError(t, err)

	out, err := run(t, "", "decode", payload)
	require.NoError(t, err)
	assert.Contains(t, out, "layout")
	assert.Contains(t, out, "fingerprint")
	assert.Contains(t, out, "Valheim 0.217.46 (n-34)")
	assert.Contains(t, out, "Jotunn")
}

func TestEncodeHexThroughStdin(t *testing.T) {
	mods := writeFile(t, t.TempDir(), "mods.toml", serverMods)

	hexPayload, err := run(t, "", "encode", "-m", mods)
	require.NoError(t, err)

	out, err := run(t, hexPayload, "decode", "--hex", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Jotunn")
}

func TestDecodeMalformed(t *testing.T) {
	_, err := run(t, "0102", "decode", "--hex", "-")
	assert.ErrorIs(t, err, qerrors.ErrMalformedStream)

	_, err = run(t, "zz", "decode", "--hex", "-")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	server := writeFile(t, dir, "server.toml", serverMods)
	client := writeFile(t, dir, "client.toml", clientMods)

	out, err := run(t, "", "check", "--server", server, "--client", server)
	require.NoError(t, err)
	assert.Contains(t, out, "compatible")

	out, err = run(t, "", "check", "--server", server, "--client", client)
	assert.ErrorIs(t, err, qerrors.ErrIncompatible)
	assert.Contains(t, out, "incompatible mod set")
	assert.Contains(t, out, "client is missing Jotunn 2.20.1")
}

func TestCheckPayloadAgainstLocal(t *testing.T) {
	dir := t.TempDir()
	server := writeFile(t, dir, "server.toml", serverMods)
	payload := filepath.Join(dir, "server.bin")

	_, err := run(t, "", "encode", "-m", server, "-o", payload)
	require.NoError(t, err)

	out, err := run(t, "", "check", "--server", payload, "-m", server)
	require.NoError(t, err)
	assert.Contains(t, out, "compatible")
}

func TestSettingsFromEnvironment(t *testing.T) {
	t.Setenv("MODCOMPAT_GAME_VERSION", "0.217.46")
	t.Setenv("MODCOMPAT_NETWORK_VERSION", "35")

	hexPayload, err := run(t, "", "encode")
	require.NoError(t, err)

	out, err := run(t, hexPayload, "decode", "--hex", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Valheim 0.217.46 (n-35)")
}

func TestSettingsConflictWithManifest(t *testing.T) {
	mods := writeFile(t, t.TempDir(), "mods.toml", serverMods)

	_, err := run(t, "", "encode", "-m", mods, "--game-version", "0.218.0")
	assert.Error(t, err)
}

func TestInvalidTracingMode(t *testing.T) {
	_, err := run(t, "", "--tracing", "zipkin", "version")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "modcompat version v"))
}

// newTestApp returns an initialized app reading only the given settings.
func newTestApp(t *testing.T, settings map[string]interface{}) (*app, *cobra.Command, *bytes.Buffer) {
	t.Helper()
	a := &app{v: viper.New(), cfgFile: writeFile(t, t.TempDir(), "modcompat.toml", "")}
	a.v.Set("log.level", "silent")
	a.v.Set("no_color", true)
	for k, v := range settings {
		a.v.Set(k, v)
	}

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	require.NoError(t, a.init(cmd))
	return a, cmd, &out
}

func TestServeAndConnect(t *testing.T) {
	dir := t.TempDir()
	server := writeFile(t, dir, "server.toml", serverMods)
	client := writeFile(t, dir, "client.toml", clientMods)

	sa, scmd, _ := newTestApp(t, map[string]interface{}{
		"manifest":          server,
		"serve.addr":        "127.0.0.1:0",
		"handshake.timeout": 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- sa.serve(ctx, scmd, &serveOptions{ready: func(addr net.Addr) { ready <- addr }})
	}()

	var addr string
	select {
	case a := <-ready:
		addr = a.String()
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	opts := &connectOptions{retries: 2, retryDelay: 10 * time.Millisecond, maxDelay: 50 * time.Millisecond, dialTimeout: time.Second}

	ca, ccmd, out := newTestApp(t, map[string]interface{}{"manifest": server, "handshake.timeout": 5 * time.Second})
	require.NoError(t, ca.connect(ctx, ccmd, addr, opts))
	assert.Contains(t, out.String(), "accepted by")

	ra, rcmd, rout := newTestApp(t, map[string]interface{}{"manifest": client, "handshake.timeout": 5 * time.Second})
	err := ra.connect(ctx, rcmd, addr, opts)
	assert.ErrorIs(t, err, qerrors.ErrHandshakeRejected)
	assert.Contains(t, rout.String(), "rejected by")
	assert.Contains(t, rout.String(), "client is missing Jotunn")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConnectGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a, cmd, _ := newTestApp(t, map[string]interface{}{"game_version": "0.217.46"})
	opts := &connectOptions{retries: 2, retryDelay: time.Millisecond, maxDelay: 5 * time.Millisecond, dialTimeout: 100 * time.Millisecond}

	err = a.connect(context.Background(), cmd, addr, opts)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dial "+addr)
}
