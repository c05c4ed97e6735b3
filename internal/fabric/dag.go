package fabric

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabricguard/fabric/internal/protocol"
)

// DAGStatus is the lifecycle state of a submitted workflow.
type DAGStatus string

const (
	DAGPending   DAGStatus = "pending"
	DAGRunning   DAGStatus = "running"
	DAGCompleted DAGStatus = "completed"
)

// TaskStatus is the derived per-task state reported in snapshots.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// DAG is a submitted workflow: an ordered list of tasks, their dependency
// sets, and the accumulating map of terminal results.
type DAG struct {
	mu sync.Mutex

	DAGID       string
	Name        string
	Tasks       []protocol.TaskDescriptor
	Deps        map[string][]string
	TaskResults map[string]protocol.Result
	Status      DAGStatus
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// newDAG validates a submission (no duplicate ids, no dangling
// dependencies, no cycle — spec §9 decision: reject rather than accept an
// unschedulable DAG) and builds a DAG ready for scheduling.
func newDAG(sub protocol.DAGSubmission, now time.Time) (*DAG, error) {
	taskByID := make(map[string]protocol.TaskDescriptor, len(sub.Tasks))
	for _, t := range sub.Tasks {
		if _, dup := taskByID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		taskByID[t.ID] = t
	}
	deps := make(map[string][]string, len(sub.Tasks))
	for _, t := range sub.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := taskByID[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
		deps[t.ID] = t.DependsOn
	}
	if err := detectCycle(deps); err != nil {
		return nil, err
	}

	dagID := uuid.New().String()[:8]
	tasks := make([]protocol.TaskDescriptor, len(sub.Tasks))
	for i, t := range sub.Tasks {
		t.DAGID = dagID
		tasks[i] = t
	}

	return &DAG{
		DAGID:       dagID,
		Name:        sub.Name,
		Tasks:       tasks,
		Deps:        deps,
		TaskResults: make(map[string]protocol.Result),
		Status:      DAGPending,
		CreatedAt:   now,
	}, nil
}

// detectCycle performs a depth-first cycle check over the dependency map.
func detectCycle(deps map[string][]string) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected at task %q", id)
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for id := range deps {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// readyTasks returns every task not yet in TaskResults whose every
// predecessor already has a terminal result, recomputed fresh (not
// incrementally maintained) per spec §4.4.
func (d *DAG) readyTasks() []protocol.TaskDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ready []protocol.TaskDescriptor
	for _, t := range d.Tasks {
		if _, done := d.TaskResults[t.ID]; done {
			continue
		}
		allDepsDone := true
		for _, dep := range d.Deps[t.ID] {
			if _, ok := d.TaskResults[dep]; !ok {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, t)
		}
	}
	return ready
}

// ApplyResult ingests a terminal result, transitioning pending->running on
// first ingest and running->completed once every task has a result.
func (d *DAG) ApplyResult(taskID string, result protocol.Result, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, already := d.TaskResults[taskID]; !already {
		if d.Status == DAGPending {
			d.Status = DAGRunning
			d.StartedAt = now
		}
	}
	d.TaskResults[taskID] = result
	if len(d.TaskResults) == len(d.Tasks) {
		d.Status = DAGCompleted
		d.CompletedAt = now
	}
}

// CurrentStatus reports the DAG's status under its lock.
func (d *DAG) CurrentStatus() DAGStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Status
}

// DAGsTable is the DAGs collection of the State Store.
type DAGsTable struct {
	mu   sync.Mutex
	dags map[string]*DAG
}

// NewDAGsTable constructs an empty table.
func NewDAGsTable() *DAGsTable {
	return &DAGsTable{dags: make(map[string]*DAG)}
}

// Submit validates and inserts a new DAG, returning the inserted DAG.
func (t *DAGsTable) Submit(sub protocol.DAGSubmission, now time.Time) (*DAG, error) {
	dag, err := newDAG(sub, now)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.dags[dag.DAGID] = dag
	t.mu.Unlock()
	return dag, nil
}

// Get returns a DAG by id.
func (t *DAGsTable) Get(dagID string) (*DAG, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.dags[dagID]
	return d, ok
}

// IDs returns a snapshot of every known DAG id, used by the Scheduler Loop
// to avoid holding the table lock while re-evaluating each DAG.
func (t *DAGsTable) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.dags))
	for id := range t.dags {
		ids = append(ids, id)
	}
	return ids
}

// All returns every DAG, used for status snapshots.
func (t *DAGsTable) All() map[string]*DAG {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*DAG, len(t.dags))
	for id, d := range t.dags {
		out[id] = d
	}
	return out
}
