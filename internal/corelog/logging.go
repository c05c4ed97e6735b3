// Package corelog configures the process-wide structured logger and hands
// out loggers scoped to one connection or one task report, so concurrent
// connections' and concurrent workers' log lines stay attributable.
package corelog

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures a global slog logger. JSON if FABRIC_JSON_LOG=1/true/json else text.
func Init(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("FABRIC_JSON_LOG"))
	jsonMode := mode == "1" || mode == "true" || mode == "json"

	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if jsonMode {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", jsonMode, "level", opts.Level)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("FABRIC_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Connection returns a logger scoped to one accepted socket: every line it
// emits carries the remote address, so the Connection Handler's log lines
// for concurrent sockets can be told apart without threading a request id
// through every call.
func Connection(remoteAddr string) *slog.Logger {
	return slog.Default().With("remote_addr", remoteAddr)
}

// ForTaskResult returns a logger scoped to one worker's task_result report,
// carrying the ids the Message Router needs to correlate the report with
// the Worker and DAG it names.
func ForTaskResult(nodeID, taskID, dagID string) *slog.Logger {
	return slog.Default().With("node_id", nodeID, "task_id", taskID, "dag_id", dagID)
}
