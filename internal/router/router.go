// Package router implements the Message Router: a dispatch on the inbound
// frame's "type" field to one of the request kinds in SPEC_FULL.md §4.3,
// each a pure function from (request, connection identity) to (response,
// side effects on the State Store).
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fabricguard/fabric/internal/corelog"
	"github.com/fabricguard/fabric/internal/fabric"
	"github.com/fabricguard/fabric/internal/journal"
	"github.com/fabricguard/fabric/internal/protocol"
	"github.com/fabricguard/fabric/internal/telemetry"
)

// Store bundles the three State Store tables and the ambient collaborators
// (journal, metrics) the router needs to dispatch a request.
type Store struct {
	Workers   *fabric.WorkersTable
	DAGs      *fabric.DAGsTable
	Scheduler *fabric.Scheduler
	Journal   *journal.Journal
	Metrics   telemetry.ControllerMetrics
	tracer    trace.Tracer
}

// NewStore constructs a router Store wired against the State Store tables.
func NewStore(workers *fabric.WorkersTable, dags *fabric.DAGsTable, sched *fabric.Scheduler, jr *journal.Journal, metrics telemetry.ControllerMetrics) *Store {
	return &Store{
		Workers:   workers,
		DAGs:      dags,
		Scheduler: sched,
		Journal:   jr,
		Metrics:   metrics,
		tracer:    otel.Tracer(telemetry.TracerName),
	}
}

// Route decodes the raw frame payload, dispatches it, and returns the
// response to write back. Route has no error return: every request-level
// problem, including a payload whose "type" envelope fails to decode,
// surfaces as a protocol.Response with status "error" per SPEC_FULL.md §7.
// Payloads that are not JSON objects never reach Route; the Connection
// Handler closes the connection on them as a framing failure.
func (s *Store) Route(ctx context.Context, raw []byte, remoteAddr string) protocol.Response {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return protocol.Errorf(fmt.Sprintf("malformed request: %v", err))
	}

	ctx, span := s.tracer.Start(ctx, "router.route", trace.WithAttributes(attribute.String("type", env.Type)))
	defer span.End()

	start := time.Now()
	resp := s.dispatch(ctx, env.Type, raw, remoteAddr)
	if s.Metrics.DispatchDuration != nil {
		s.Metrics.DispatchDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attribute.String("type", env.Type)))
	}
	if s.Metrics.RequestsTotal != nil {
		s.Metrics.RequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", env.Type), attribute.String("status", resp.Status)))
	}
	if resp.Status == "error" && s.Metrics.RequestErrors != nil {
		s.Metrics.RequestErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", env.Type)))
	}
	return resp
}

func (s *Store) dispatch(ctx context.Context, msgType string, raw []byte, remoteAddr string) protocol.Response {
	switch msgType {
	case protocol.TypeRegisterNode:
		return s.handleRegisterNode(raw, remoteAddr)
	case protocol.TypeHeartbeat:
		return s.handleHeartbeat(raw)
	case protocol.TypeGetTask:
		return s.handleGetTask(raw)
	case protocol.TypeTaskResult:
		return s.handleTaskResult(ctx, raw)
	case protocol.TypeSubmitDAG:
		return s.handleSubmitDAG(raw)
	case protocol.TypeGetStatus:
		return s.handleGetStatus()
	case protocol.TypeGetDAGStatus:
		return s.handleGetDAGStatus(raw)
	default:
		return protocol.Errorf(fmt.Sprintf("Unknown message type: %s", msgType))
	}
}

func (s *Store) handleRegisterNode(raw []byte, remoteAddr string) protocol.Response {
	var req protocol.RegisterNodeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Errorf("malformed register_node request")
	}
	if req.NodeID == "" {
		return protocol.Errorf("node_id is required")
	}
	now := time.Now()
	isNew := s.Workers.Register(req.NodeID, remoteAddr, req.RAMLimit, now)
	s.Journal.AppendWorkerEvent("register_node", req.NodeID, map[string]any{"ram_limit": req.RAMLimit, "addr": remoteAddr, "new": isNew})
	if isNew && s.Metrics.WorkersGauge != nil {
		s.Metrics.WorkersGauge.Add(context.Background(), 1)
	}
	return protocol.Success()
}

func (s *Store) handleHeartbeat(raw []byte) protocol.Response {
	var req protocol.HeartbeatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Errorf("malformed heartbeat request")
	}
	if req.NodeID == "" {
		return protocol.Errorf("node_id is required")
	}
	if !s.Workers.Heartbeat(req.NodeID, time.Now()) {
		return protocol.Errorf("Node not found")
	}
	return protocol.Success()
}

func (s *Store) handleGetTask(raw []byte) protocol.Response {
	var req protocol.GetTaskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Errorf("malformed get_task request")
	}
	if req.NodeID == "" {
		return protocol.Errorf("node_id is required")
	}
	task, ok := s.Scheduler.Dequeue(req.NodeID, time.Now())
	if !ok {
		resp := protocol.Success()
		resp.Task = nil
		return resp
	}
	s.Workers.MarkBusy(req.NodeID, task.ID)
	resp := protocol.Success()
	resp.Task = &task
	return resp
}

func (s *Store) handleTaskResult(ctx context.Context, raw []byte) protocol.Response {
	var req protocol.TaskResultRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Errorf("malformed task_result request")
	}
	if req.NodeID == "" || req.TaskID == "" {
		return protocol.Errorf("node_id and task_id are required")
	}

	now := time.Now()
	log := corelog.ForTaskResult(req.NodeID, req.TaskID, req.Result.DAGID)

	// Scheduler, then DAG, then Worker, each under its own lock (spec §5).
	// dag_id is stored verbatim as the worker supplied it (spec §4.4) and
	// never validated against the task — a stale or empty dag_id must not
	// strand the task in_flight or leave the worker stuck busy, so the
	// Scheduler/Worker updates below run unconditionally; only the
	// DAG-specific write is gated on the id actually resolving, mirroring
	// the reference Controller's own `if dag_id:` gate.
	s.Scheduler.Resolve(req.TaskID, req.Result.Success)

	dag, ok := s.DAGs.Get(req.Result.DAGID)
	if ok {
		dag.ApplyResult(req.TaskID, req.Result, now)
	}

	s.Workers.CompleteTask(req.NodeID, req.TaskID, req.Result.Success, req.Result.Output, now)

	s.Journal.AppendTaskEvent("task_result", req.TaskID, map[string]any{
		"node_id": req.NodeID,
		"dag_id":  req.Result.DAGID,
		"success": req.Result.Success,
	})

	if !ok {
		log.Warn("task_result named an unresolvable dag_id, scheduler and worker still updated")
		return protocol.Success()
	}

	if dag.CurrentStatus() == fabric.DAGCompleted {
		s.Journal.AppendDAGEvent("dag_completed", dag.DAGID, map[string]any{"name": dag.Name})
	}

	// Re-evaluate for newly-eligible successors: DAGs then Scheduler order.
	fabric.EvaluateDAG(dag, s.Scheduler)

	return protocol.Success()
}

func (s *Store) handleSubmitDAG(raw []byte) protocol.Response {
	var req protocol.SubmitDAGRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Errorf("malformed submit_dag request")
	}
	if req.DAG.Name == "" {
		return protocol.Errorf("dag.name is required")
	}
	if len(req.DAG.Tasks) == 0 {
		return protocol.Errorf("dag.tasks must be non-empty")
	}
	dag, err := s.DAGs.Submit(req.DAG, time.Now())
	if err != nil {
		return protocol.Errorf(err.Error())
	}
	s.Journal.AppendDAGEvent("submit_dag", dag.DAGID, map[string]any{"name": dag.Name, "tasks": len(dag.Tasks)})
	fabric.EvaluateDAG(dag, s.Scheduler)
	resp := protocol.Success()
	resp.DAGID = dag.DAGID
	return resp
}

func (s *Store) handleGetStatus() protocol.Response {
	nodes := make(map[string]fabric.NodeSnapshot)
	for id, w := range s.Workers.Snapshot() {
		nodes[id] = w.NodeSnapshot()
	}
	dagsSnapshot := make(map[string]fabric.DAGSnapshot)
	for id, d := range s.DAGs.All() {
		dagsSnapshot[id] = d.Snapshot()
	}

	nodesRaw, err := json.Marshal(nodes)
	if err != nil {
		return protocol.Errorf("failed to marshal nodes snapshot")
	}
	dagsRaw, err := json.Marshal(dagsSnapshot)
	if err != nil {
		return protocol.Errorf("failed to marshal dags snapshot")
	}

	resp := protocol.Success()
	resp.Nodes = nodesRaw
	resp.DAGs = dagsRaw
	resp.Timestamp = float64(time.Now().UnixNano()) / 1e9
	return resp
}

func (s *Store) handleGetDAGStatus(raw []byte) protocol.Response {
	var req protocol.GetDAGStatusRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Errorf("malformed get_dag_status request")
	}
	if req.DAGID == "" {
		return protocol.Errorf("dag_id is required")
	}
	dag, ok := s.DAGs.Get(req.DAGID)
	if !ok {
		return protocol.Errorf("DAG not found")
	}
	dagRaw, err := json.Marshal(dag.Snapshot())
	if err != nil {
		return protocol.Errorf("failed to marshal dag snapshot")
	}
	resp := protocol.Success()
	resp.DAG = dagRaw
	return resp
}
