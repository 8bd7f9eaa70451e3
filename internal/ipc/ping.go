package ipc

import (
	"time"

	"github.com/ianlt/shelld/internal/wire"
)

// Ping dials path and performs just the version handshake, to check
// whether a daemon is actually listening (as opposed to a stale socket
// file left behind by a crashed daemon). It reports false, nil if nothing
// answers within pingTimeout (§6 "rebound" behavior is then the caller's
// responsibility: remove the stale file and start a new daemon).
func Ping(path string) (bool, error) {
	conn, err := Dial(path)
	if err != nil {
		return false, nil
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(pingTimeout))

	if err := wire.WriteEnvelope(conn, wire.Envelope{Type: wire.TypeHandshake, Handshake: &wire.Handshake{Version: wire.ProtocolVersion}}); err != nil {
		return false, nil
	}
	resp, err := wire.ReadEnvelope(conn)
	if err != nil {
		return false, nil
	}
	return resp.Type == wire.TypeHandshake, nil
}
