// Command fabricd is the Controller: the single coordination process that
// multiplexes worker connections, tracks liveness, evaluates DAG readiness,
// schedules tasks, and reports fleet/DAG snapshots. See SPEC_FULL.md.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabricguard/fabric/internal/corelog"
	"github.com/fabricguard/fabric/internal/fabric"
	"github.com/fabricguard/fabric/internal/journal"
	"github.com/fabricguard/fabric/internal/router"
	"github.com/fabricguard/fabric/internal/server"
	"github.com/fabricguard/fabric/internal/telemetry"
)

const serviceName = "controller"

func main() {
	host := flag.String("host", "0.0.0.0", "address to bind the wire-protocol listener")
	port := flag.Int("port", 5000, "port to bind the wire-protocol listener")
	maxConnections := flag.Int("max-connections", 100, "maximum concurrent worker/client connections")
	journalPath := flag.String("journal", "fabric-journal.db", "path to the non-authoritative bbolt event journal")
	flag.Parse()

	corelog.Init(serviceName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := telemetry.InitTracer(ctx, serviceName)
	shutdownMetrics, metrics := telemetry.InitMetrics(ctx, serviceName)

	jr, err := journal.Open(*journalPath)
	if err != nil {
		slog.Error("failed to open event journal", "error", err)
		os.Exit(1)
	}
	defer jr.Close()

	workers := fabric.NewWorkersTable()
	dags := fabric.NewDAGsTable()
	sched := fabric.NewScheduler()
	store := router.NewStore(workers, dags, sched, jr, metrics)

	loops := fabric.NewLoops(workers, dags, sched, func(nodeID string, reclaimed []string) {
		jr.AppendWorkerEvent("worker_reaped", nodeID, map[string]any{"reclaimed_tasks": reclaimed})
		if metrics.ReaperEvictions != nil {
			metrics.ReaperEvictions.Add(context.Background(), 1)
		}
		if metrics.WorkersGauge != nil {
			metrics.WorkersGauge.Add(context.Background(), -1)
		}
	})

	srv := server.New(server.Config{
		Host:           *host,
		Port:           *port,
		MaxConnections: *maxConnections,
	}, store, loops)

	slog.Info("fabric controller starting", "host", *host, "port", *port, "max_connections", *maxConnections)
	if err := srv.Run(ctx); err != nil {
		slog.Error("controller exited with error", "error", err)
		shutdownFlush(shutdownTrace, shutdownMetrics)
		os.Exit(1)
	}

	shutdownFlush(shutdownTrace, shutdownMetrics)
	slog.Info("fabric controller stopped")
}

func shutdownFlush(shutdownTrace func(context.Context) error, shutdownMetrics func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	telemetry.Flush(ctx, shutdownTrace)
	_ = shutdownMetrics(ctx)
}
