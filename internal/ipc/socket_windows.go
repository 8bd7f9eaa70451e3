//go:build windows

package ipc

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
)

// DefaultSocketPath returns the per-user named pipe path (§6, §9 "Global
// state"); go-winio's pipe security descriptor (see Listen) restricts
// access to the owning user, the ACL analogue of Unix mode 0600.
func DefaultSocketPath() string {
	user := os.Getenv("USERNAME")
	if user == "" {
		user = "default"
	}
	return `\\.\pipe\shelld-` + user
}

// Listen binds a Windows named pipe scoped to the owning user SID (§4.8
// "Windows: named pipe scoped to the user SID").
func Listen(path string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		// Owner-only security descriptor: SYSTEM and the creating user get
		// full control, no one else is granted access.
		SecurityDescriptor: "D:P(A;;GA;;;SY)(A;;GA;;;CO)",
		MessageMode:        false,
		InputBufferSize:    65536,
		OutputBufferSize:   65536,
	}
	return winio.ListenPipe(path, cfg)
}

// Dial connects to the daemon's named pipe at path.
func Dial(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}

// Cleanup is a no-op on Windows: named pipes are removed automatically
// when the last handle (the listener) closes.
func Cleanup(path string) {}
