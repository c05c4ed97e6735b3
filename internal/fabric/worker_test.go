package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkersTableRegisterAndHeartbeat(t *testing.T) {
	table := NewWorkersTable()
	now := time.Now()
	require.True(t, table.Register("w1", "10.0.0.1:9000", 512, now))

	require.Equal(t, 1, table.Count())
	require.True(t, table.Heartbeat("w1", now.Add(time.Second)))
	require.False(t, table.Heartbeat("ghost", now))
}

// TestWorkersTableRegisterIsLastWriteWins exercises spec §9: a second
// register_node for the same node_id replaces the prior entry silently, and
// Register reports it as a re-registration rather than a new node.
func TestWorkersTableRegisterIsLastWriteWins(t *testing.T) {
	table := NewWorkersTable()
	now := time.Now()
	table.Register("w1", "10.0.0.1:9000", 512, now)
	table.MarkBusy("w1", "t1")

	require.False(t, table.Register("w1", "10.0.0.2:9000", 1024, now.Add(time.Minute)))

	snap := table.Snapshot()
	w := snap["w1"]
	require.Equal(t, "10.0.0.2:9000", w.Addr)
	require.Equal(t, 1024, w.RAMLimit)
	require.Equal(t, WorkerIdle, w.Status)
	require.Empty(t, w.CurrentTask)
}

func TestWorkersTableMarkBusyAndCompleteTask(t *testing.T) {
	table := NewWorkersTable()
	now := time.Now()
	table.Register("w1", "addr", 256, now)

	table.MarkBusy("w1", "t1")
	snap := table.Snapshot()
	require.Equal(t, WorkerBusy, snap["w1"].Status)
	require.Equal(t, "t1", snap["w1"].CurrentTask)

	table.CompleteTask("w1", "t1", true, "ok", now.Add(time.Second))
	snap = table.Snapshot()
	require.Equal(t, WorkerIdle, snap["w1"].Status)
	require.Empty(t, snap["w1"].CurrentTask)
	require.Equal(t, 1, snap["w1"].TaskCount)
	require.Len(t, snap["w1"].CompletedLog, 1)
}

func TestWorkersTableMarkBusyUnknownWorkerIsNoop(t *testing.T) {
	table := NewWorkersTable()
	table.MarkBusy("ghost", "t1")
	require.Equal(t, 0, table.Count())
}

// TestWorkersTableDeadWorkersThreshold exercises S3/property 5: a worker
// is dead once now - last_heartbeat exceeds the 60s liveness threshold.
func TestWorkersTableDeadWorkersThreshold(t *testing.T) {
	table := NewWorkersTable()
	base := time.Now()
	table.Register("alive", "a", 256, base)
	table.Register("dead", "b", 256, base)

	now := base.Add(90 * time.Second)
	table.Heartbeat("alive", base.Add(70*time.Second))

	dead := table.DeadWorkers(now)
	require.Equal(t, []string{"dead"}, dead)
}

func TestWorkersTableEvictRemovesRecord(t *testing.T) {
	table := NewWorkersTable()
	table.Register("w1", "a", 256, time.Now())
	table.Evict("w1")
	require.Equal(t, 0, table.Count())
}
