// Package server implements the Connection Handler and accept loop: one
// Handler per accepted socket, decoding frames and dispatching each to the
// Message Router, per SPEC_FULL.md §4.2.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/fabricguard/fabric/internal/codec"
	"github.com/fabricguard/fabric/internal/corelog"
	"github.com/fabricguard/fabric/internal/router"
)

// handleConnection owns one accepted socket for its entire lifetime: read a
// frame, invoke the Message Router, write exactly one response frame, loop.
// A worker is identified by the node_id inside each message, never by the
// socket itself — disconnection alone never evicts a worker (only heartbeat
// expiry does, via the Reaper Loop).
func handleConnection(ctx context.Context, conn net.Conn, store *router.Store) {
	defer conn.Close()
	remoteAddr := conn.RemoteAddr().String()
	log := corelog.Connection(remoteAddr)
	log.Debug("connection accepted")

	for {
		payload, err := codec.ReadFramePayload(conn)
		if err != nil {
			if errors.Is(err, codec.ErrConnectionClosed) {
				log.Debug("connection closed by peer")
				return
			}
			// Any other error (short read, oversize length) is a framing
			// failure: close with no response, per SPEC_FULL.md §4.1/§7.
			log.Warn("framing failure, closing connection", "error", err)
			return
		}
		if store.Metrics.FramesRead != nil {
			store.Metrics.FramesRead.Add(ctx, 1)
		}

		// A payload that is not a JSON object is also a framing failure:
		// close with no response rather than routing it.
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
			log.Warn("framing failure: payload is not a JSON object, closing connection", "error", err)
			return
		}

		resp := store.Route(ctx, payload, remoteAddr)

		if err := codec.WriteFrame(conn, resp); err != nil {
			log.Warn("failed to write response frame, closing connection", "error", err)
			return
		}
	}
}
