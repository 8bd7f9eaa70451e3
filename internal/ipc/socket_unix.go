//go:build !windows

package ipc

import (
	"net"
	"os"
	"strconv"
)

// DefaultSocketPath returns the per-user Unix domain socket path (§6, §9
// "Global state"), rooted under $XDG_RUNTIME_DIR (or a /tmp fallback for
// environments that lack it) and scoped by uid for a one-daemon-per-user
// design.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return dir + "/shelld-" + strconv.Itoa(os.Getuid()) + ".sock"
}

// Listen binds a Unix domain socket at path with permissions restricted to
// the owning user (mode 0600, §4.8). It does not unlink an existing socket
// file itself: the caller must first confirm (via Ping) that no live
// daemon is already bound to path, then call Cleanup, before calling
// Listen — otherwise a second daemon would silently steal a live
// daemon's socket instead of detecting the collision as SocketBusy (§6, §9).
func Listen(path string) (net.Listener, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Dial connects to the daemon's Unix domain socket at path.
func Dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}

// Cleanup removes the socket file on shutdown so a future Listen doesn't
// have to rely on the stale-socket rebind path.
func Cleanup(path string) {
	os.Remove(path)
}
