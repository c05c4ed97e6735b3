package fabric

import "time"

// NodeSnapshot is one entry of the get_status "nodes" map.
type NodeSnapshot struct {
	Addr          string    `json:"addr,omitempty"`
	RAMLimit      int       `json:"ram_limit"`
	Status        string    `json:"status"`
	CurrentTask   string    `json:"current_task,omitempty"`
	TaskCount     int       `json:"task_count"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// DAGSnapshot is one entry of the get_status "dags" map, and the body of a
// get_dag_status response.
type DAGSnapshot struct {
	Name           string            `json:"name"`
	Status         DAGStatus         `json:"status"`
	TotalTasks     int               `json:"total_tasks"`
	CompletedTasks int               `json:"completed_tasks"`
	Tasks          map[string]string `json:"tasks"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// snapshot builds the reported view of a DAG under its own lock. Per-task
// status is derived from the result's success flag; tasks absent from
// TaskResults report "pending" (spec §4.7).
func (d *DAG) snapshot() DAGSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	tasks := make(map[string]string, len(d.Tasks))
	completed := 0
	for _, t := range d.Tasks {
		result, ok := d.TaskResults[t.ID]
		switch {
		case !ok:
			tasks[t.ID] = string(TaskPending)
		case result.Success:
			tasks[t.ID] = string(TaskCompleted)
			completed++
		default:
			tasks[t.ID] = string(TaskFailed)
			completed++
		}
	}

	snap := DAGSnapshot{
		Name:           d.Name,
		Status:         d.Status,
		TotalTasks:     len(d.Tasks),
		CompletedTasks: completed,
		Tasks:          tasks,
		CreatedAt:      d.CreatedAt,
	}
	if !d.StartedAt.IsZero() {
		started := d.StartedAt
		snap.StartedAt = &started
	}
	if !d.CompletedAt.IsZero() {
		done := d.CompletedAt
		snap.CompletedAt = &done
	}
	return snap
}

// Snapshot exposes the DAG's status view (used by get_dag_status).
func (d *DAG) Snapshot() DAGSnapshot { return d.snapshot() }

// NodeSnapshot builds the reported view of a Worker.
func (w Worker) NodeSnapshot() NodeSnapshot {
	return NodeSnapshot{
		Addr:          w.Addr,
		RAMLimit:      w.RAMLimit,
		Status:        string(w.Status),
		CurrentTask:   w.CurrentTask,
		TaskCount:     w.TaskCount,
		LastHeartbeat: w.LastHeartbeat,
	}
}
