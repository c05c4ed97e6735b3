package fabric

import (
	"sync"
	"time"
)

// WorkerStatus is the liveness/activity state of a registered Worker.
type WorkerStatus string

const (
	WorkerIdle WorkerStatus = "idle"
	WorkerBusy WorkerStatus = "busy"
)

// deadAfter is how long a Worker may go without a heartbeat before the
// Reaper considers it dead (spec §4.6: 60s, strictly greater than the
// recommended 30s heartbeat interval).
const deadAfter = 60 * time.Second

// CompletedTaskLogEntry is one entry in a Worker's completed-task log.
type CompletedTaskLogEntry struct {
	TaskID    string    `json:"task_id"`
	Success   bool      `json:"success"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// Worker is the Controller's view of a registered compute node. Addr is
// optional — populated from the accepted connection when available, but
// never assumed present by callers (spec §9 open question on addr).
type Worker struct {
	NodeID        string
	Addr          string
	RAMLimit      int
	Status        WorkerStatus
	CurrentTask   string
	TaskCount     int
	LastHeartbeat time.Time
	CompletedLog  []CompletedTaskLogEntry
}

func (w *Worker) alive(now time.Time) bool {
	return now.Sub(w.LastHeartbeat) <= deadAfter
}

// WorkersTable is the Workers collection of the State Store, guarded by
// its own lock per the concurrency discipline in spec §5.
type WorkersTable struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewWorkersTable constructs an empty table.
func NewWorkersTable() *WorkersTable {
	return &WorkersTable{workers: make(map[string]*Worker)}
}

// Register inserts or replaces (last-write-wins) a Worker entry. Returns
// true if nodeID was not already registered, so callers can distinguish a
// genuinely new node from a reconnect/re-registration of a known one.
func (t *WorkersTable) Register(nodeID, addr string, ramLimit int, now time.Time) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.workers[nodeID]
	t.workers[nodeID] = &Worker{
		NodeID:        nodeID,
		Addr:          addr,
		RAMLimit:      ramLimit,
		Status:        WorkerIdle,
		LastHeartbeat: now,
	}
	return !existed
}

// Heartbeat refreshes LastHeartbeat for a known Worker. Returns false if
// the node is unknown.
func (t *WorkersTable) Heartbeat(nodeID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.workers[nodeID]
	if !ok {
		return false
	}
	w.LastHeartbeat = now
	return true
}

// MarkBusy records that a Worker has been handed a task. A no-op if the
// worker is unknown (it may have been reaped between the scheduler pop and
// this call, which is an accepted race — the task stays in_flight under
// the now-gone worker id until the Reaper next runs).
func (t *WorkersTable) MarkBusy(nodeID, taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.workers[nodeID]; ok {
		w.Status = WorkerBusy
		w.CurrentTask = taskID
	}
}

// CompleteTask records a finished task against a Worker: increments its
// counter, appends to its log, and returns it to idle.
func (t *WorkersTable) CompleteTask(nodeID, taskID string, success bool, summary string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.workers[nodeID]
	if !ok {
		return
	}
	w.Status = WorkerIdle
	w.CurrentTask = ""
	w.TaskCount++
	w.CompletedLog = append(w.CompletedLog, CompletedTaskLogEntry{
		TaskID:    taskID,
		Success:   success,
		Summary:   summary,
		Timestamp: now,
	})
}

// DeadWorkers returns the node ids whose heartbeat has aged past the
// liveness threshold as of now.
func (t *WorkersTable) DeadWorkers(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dead []string
	for id, w := range t.workers {
		if !w.alive(now) {
			dead = append(dead, id)
		}
	}
	return dead
}

// Evict removes a Worker record outright (Reaper eviction or shutdown).
func (t *WorkersTable) Evict(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workers, nodeID)
}

// Snapshot returns a shallow copy of every Worker, safe to serialize
// without holding the table lock afterward.
func (t *WorkersTable) Snapshot() map[string]Worker {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Worker, len(t.workers))
	for id, w := range t.workers {
		out[id] = *w
	}
	return out
}

// Count returns the number of registered workers.
func (t *WorkersTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}
