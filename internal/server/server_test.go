package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabricguard/fabric/internal/codec"
	"github.com/fabricguard/fabric/internal/fabric"
	"github.com/fabricguard/fabric/internal/protocol"
	"github.com/fabricguard/fabric/internal/router"
	"github.com/fabricguard/fabric/internal/telemetry"
)

// newTestLoops builds a Loops against empty tables: the server only calls
// Start/Stop on it, and its two cron jobs ticking over empty tables are
// harmless for the duration of one test.
func newTestLoops() *fabric.Loops {
	return fabric.NewLoops(fabric.NewWorkersTable(), fabric.NewDAGsTable(), fabric.NewScheduler(), nil)
}

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	store := router.NewStore(fabric.NewWorkersTable(), fabric.NewDAGsTable(), fabric.NewScheduler(), nil, telemetry.ControllerMetrics{})
	srv := New(Config{Host: "127.0.0.1", Port: 0, MaxConnections: 10}, store, newTestLoops())

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln
	require.NoError(t, srv.loops.Start())

	acceptErr := make(chan error, 1)
	go srv.acceptLoop(ctx, ln, acceptErr)

	return ln.Addr().String(), func() {
		cancel()
		srv.shutdown()
	}
}

// TestEndToEndRegisterSubmitAndDispatch exercises the Connection Handler and
// Message Router over a real TCP socket: register, submit a single-task
// DAG, poll for it, and report success.
func TestEndToEndRegisterSubmitAndDispatch(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	var resp protocol.Response

	require.NoError(t, codec.WriteFrame(conn, map[string]any{"type": "register_node", "node_id": "w1", "ram_limit": 256}))
	require.NoError(t, codec.ReadFrame(conn, &resp))
	require.Equal(t, "success", resp.Status)

	require.NoError(t, codec.WriteFrame(conn, map[string]any{
		"type": "submit_dag",
		"dag": map[string]any{
			"name":  "solo",
			"tasks": []map[string]any{{"id": "t1", "module": "m"}},
		},
	}))
	require.NoError(t, codec.ReadFrame(conn, &resp))
	require.Equal(t, "success", resp.Status)
	dagID := resp.DAGID
	require.NotEmpty(t, dagID)

	require.NoError(t, codec.WriteFrame(conn, map[string]any{"type": "get_task", "node_id": "w1"}))
	require.NoError(t, codec.ReadFrame(conn, &resp))
	require.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Task)
	require.Equal(t, "t1", resp.Task.ID)

	require.NoError(t, codec.WriteFrame(conn, map[string]any{
		"type": "task_result", "node_id": "w1", "task_id": "t1",
		"result": map[string]any{"success": true, "output": "done", "dag_id": dagID},
	}))
	require.NoError(t, codec.ReadFrame(conn, &resp))
	require.Equal(t, "success", resp.Status)
}

// TestMalformedFrameClosesConnectionSilently exercises §4.1/§7: a framing
// violation (oversize length prefix) closes the socket with no response.
func TestMalformedFrameClosesConnectionSilently(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	_, readErr := conn.Read(buf)
	require.Error(t, readErr)
}

// TestUnknownMessageTypeKeepsConnectionOpen exercises §4.2: a decoded
// request with a bad type gets an error response, not a closed socket.
func TestUnknownMessageTypeKeepsConnectionOpen(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	var resp protocol.Response
	require.NoError(t, codec.WriteFrame(conn, map[string]any{"type": "bogus"}))
	require.NoError(t, codec.ReadFrame(conn, &resp))
	require.Equal(t, "error", resp.Status)

	require.NoError(t, codec.WriteFrame(conn, map[string]any{"type": "get_status"}))
	require.NoError(t, codec.ReadFrame(conn, &resp))
	require.Equal(t, "success", resp.Status)
}
