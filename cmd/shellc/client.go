package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ianlt/shelld/internal/ipc"
	"github.com/ianlt/shelld/internal/wire"
)

// daemonClient is an open, handshaken session to shelld. One is opened per
// CLI invocation and closed when the command returns.
type daemonClient struct {
	conn net.Conn
}

func socketPath() string {
	if p := os.Getenv("SHELLD_SOCKET"); p != "" {
		return p
	}
	return ipc.DefaultSocketPath()
}

// dial connects to the daemon, starting it first if it isn't already
// running (§6 "shellc starts shelld automatically if it is not already
// running").
func dial() (*daemonClient, error) {
	path := socketPath()
	ensureDaemon(path)

	conn, err := ipc.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("cannot reach shelld: %w", err)
	}

	if err := wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeHandshake, Handshake: &wire.Handshake{Version: wire.ProtocolVersion}}); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := wire.ReadEnvelope(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Type == wire.TypeError {
		conn.Close()
		return nil, fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
	}

	return &daemonClient{conn: conn}, nil
}

func (c *daemonClient) Close() error { return c.conn.Close() }

// submit sends one request envelope and reads exactly one response frame.
// It is used for every verb except logs, which keeps the session open for
// further frames.
func (c *daemonClient) submit(req wire.Envelope) (wire.Envelope, error) {
	if err := wire.WriteEnvelope(c.conn, req); err != nil {
		return wire.Envelope{}, err
	}
	return wire.ReadEnvelope(c.conn)
}

// ensureDaemon starts shelld in the background if the socket doesn't exist
// or doesn't answer a liveness ping.
func ensureDaemon(path string) {
	if ok, _ := ipc.Ping(path); ok {
		return
	}

	exe, _ := os.Executable()
	daemonBin := filepath.Join(filepath.Dir(exe), "shelld")
	if _, err := os.Stat(daemonBin); err != nil {
		daemonBin = "shelld"
	}

	cmd := exec.Command(daemonBin, "--socket", path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachDaemon(cmd)
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "shellc: could not start daemon: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if ok, _ := ipc.Ping(path); ok {
			return
		}
	}

	fmt.Fprintln(os.Stderr, "shellc: daemon did not start in time")
	os.Exit(1)
}

// exitForResult maps a daemon response to the client's process exit code
// (§6, §7: 0 success, 1 client-side error, 2 daemon-reported error) and
// prints the error message, if any, to stderr.
func exitForResult(env wire.Envelope) {
	if env.Type != wire.TypeError {
		return
	}
	fmt.Fprintf(os.Stderr, "shellc: %s: %s\n", env.Error.Kind, env.Error.Message)
	os.Exit(wire.ExitCodeForError(env.Error.Kind))
}
