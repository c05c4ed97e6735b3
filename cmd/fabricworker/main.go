// Command fabricworker is a reference worker process: it registers with
// the Controller, heartbeats, polls for tasks, executes each via the
// executor registry, and reports the result. It is sample tooling that
// exercises the wire protocol — not part of the Controller's own scope or
// concurrency guarantees (SPEC_FULL.md §6).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabricguard/fabric/internal/codec"
	"github.com/fabricguard/fabric/internal/corelog"
	"github.com/fabricguard/fabric/internal/protocol"
)

const (
	heartbeatInterval = 20 * time.Second
	pollInterval      = 2 * time.Second
)

func main() {
	controller := flag.String("controller", "127.0.0.1:5000", "Controller address")
	nodeID := flag.String("node-id", "", "unique worker identity (required)")
	ramLimit := flag.Int("ram-limit", 1024, "advertised RAM limit in MB")
	flag.Parse()

	corelog.Init("fabricworker")

	if *nodeID == "" {
		slog.Error("--node-id is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := &workerLoop{
		addr:     *controller,
		nodeID:   *nodeID,
		ramLimit: *ramLimit,
		registry: NewRegistry(nil),
	}
	if err := w.run(ctx); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

type workerLoop struct {
	addr     string
	nodeID   string
	ramLimit int
	registry *Registry
}

func (w *workerLoop) run(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", w.addr, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := w.send(conn, map[string]any{
		"type": protocol.TypeRegisterNode, "node_id": w.nodeID, "ram_limit": w.ramLimit,
	}); err != nil {
		return err
	}
	slog.Info("registered with controller", "controller", w.addr, "node_id", w.nodeID)

	heartbeats := time.NewTicker(heartbeatInterval)
	defer heartbeats.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeats.C:
			if err := w.send(conn, map[string]any{"type": protocol.TypeHeartbeat, "node_id": w.nodeID}); err != nil {
				return err
			}
		case <-poll.C:
			if err := w.pollAndExecute(ctx, conn); err != nil {
				return err
			}
		}
	}
}

func (w *workerLoop) pollAndExecute(ctx context.Context, conn net.Conn) error {
	var resp protocol.Response
	if err := w.request(conn, map[string]any{"type": protocol.TypeGetTask, "node_id": w.nodeID}, &resp); err != nil {
		return err
	}
	if resp.Task == nil {
		return nil
	}
	task := *resp.Task
	slog.Info("task assigned", "task_id", task.ID, "module", task.Module)

	start := time.Now()
	output, execErr := w.registry.Execute(ctx, task)
	result := protocol.Result{
		Success:  execErr == nil,
		Output:   output,
		Duration: time.Since(start).Seconds(),
		DAGID:    task.DAGID,
	}
	if execErr != nil {
		result.Error = execErr.Error()
		slog.Warn("task failed", "task_id", task.ID, "error", execErr)
	} else {
		slog.Info("task completed", "task_id", task.ID)
	}

	return w.send(conn, map[string]any{
		"type": protocol.TypeTaskResult, "node_id": w.nodeID, "task_id": task.ID, "result": result,
	})
}

func (w *workerLoop) send(conn net.Conn, req any) error {
	var resp protocol.Response
	return w.request(conn, req, &resp)
}

func (w *workerLoop) request(conn net.Conn, req any, resp *protocol.Response) error {
	if err := codec.WriteFrame(conn, req); err != nil {
		return err
	}
	if err := codec.ReadFrame(conn, resp); err != nil {
		return err
	}
	if resp.Status == "error" {
		slog.Warn("controller rejected request", "message", resp.Message)
	}
	return nil
}
