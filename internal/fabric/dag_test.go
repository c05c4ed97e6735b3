package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabricguard/fabric/internal/protocol"
)

func linearSubmission() protocol.DAGSubmission {
	return protocol.DAGSubmission{
		Name: "lin",
		Tasks: []protocol.TaskDescriptor{
			{ID: "a", Module: "m"},
			{ID: "b", Module: "m", DependsOn: []string{"a"}},
			{ID: "c", Module: "m", DependsOn: []string{"b"}},
		},
	}
}

func TestNewDAGRejectsDuplicateTaskID(t *testing.T) {
	_, err := newDAG(protocol.DAGSubmission{
		Name: "dup",
		Tasks: []protocol.TaskDescriptor{
			{ID: "a", Module: "m"},
			{ID: "a", Module: "m"},
		},
	}, time.Now())
	require.Error(t, err)
}

func TestNewDAGRejectsDanglingDependency(t *testing.T) {
	_, err := newDAG(protocol.DAGSubmission{
		Name: "dangling",
		Tasks: []protocol.TaskDescriptor{
			{ID: "a", Module: "m", DependsOn: []string{"ghost"}},
		},
	}, time.Now())
	require.Error(t, err)
}

func TestNewDAGRejectsCycle(t *testing.T) {
	_, err := newDAG(protocol.DAGSubmission{
		Name: "cycle",
		Tasks: []protocol.TaskDescriptor{
			{ID: "a", Module: "m", DependsOn: []string{"b"}},
			{ID: "b", Module: "m", DependsOn: []string{"a"}},
		},
	}, time.Now())
	require.Error(t, err)
}

func TestNewDAGStampsDAGIDOnEveryTask(t *testing.T) {
	dag, err := newDAG(linearSubmission(), time.Now())
	require.NoError(t, err)
	for _, task := range dag.Tasks {
		require.Equal(t, dag.DAGID, task.DAGID)
	}
}

func TestReadyTasksOnlyRootsInitially(t *testing.T) {
	dag, err := newDAG(linearSubmission(), time.Now())
	require.NoError(t, err)
	ready := dag.readyTasks()
	require.Len(t, ready, 1)
	require.Equal(t, "a", ready[0].ID)
}

// TestReadyTasksUnblocksOnCompletionRegardlessOfSuccess verifies spec §4.4:
// eligibility checks result presence, not its success flag.
func TestReadyTasksUnblocksOnCompletionRegardlessOfSuccess(t *testing.T) {
	dag, err := newDAG(linearSubmission(), time.Now())
	require.NoError(t, err)

	now := time.Now()
	dag.ApplyResult("a", protocol.Result{Success: false, DAGID: dag.DAGID}, now)

	ready := dag.readyTasks()
	require.Len(t, ready, 1)
	require.Equal(t, "b", ready[0].ID)
}

func TestApplyResultTransitionsPendingToRunningToCompleted(t *testing.T) {
	dag, err := newDAG(linearSubmission(), time.Now())
	require.NoError(t, err)
	require.Equal(t, DAGPending, dag.CurrentStatus())

	t0 := time.Now()
	dag.ApplyResult("a", protocol.Result{Success: true, DAGID: dag.DAGID}, t0)
	require.Equal(t, DAGRunning, dag.CurrentStatus())
	require.False(t, dag.StartedAt.IsZero())
	require.True(t, dag.CompletedAt.IsZero())

	dag.ApplyResult("b", protocol.Result{Success: true, DAGID: dag.DAGID}, t0.Add(time.Second))
	require.Equal(t, DAGRunning, dag.CurrentStatus())

	t2 := t0.Add(2 * time.Second)
	dag.ApplyResult("c", protocol.Result{Success: true, DAGID: dag.DAGID}, t2)
	require.Equal(t, DAGCompleted, dag.CurrentStatus())
	require.Equal(t, t2, dag.CompletedAt)
}

// TestDiamondDependencyReadyOrder exercises S2: both b and c become ready
// together, in declaration order, once a completes.
func TestDiamondDependencyReadyOrder(t *testing.T) {
	sub := protocol.DAGSubmission{
		Name: "diamond",
		Tasks: []protocol.TaskDescriptor{
			{ID: "a", Module: "m"},
			{ID: "b", Module: "m", DependsOn: []string{"a"}},
			{ID: "c", Module: "m", DependsOn: []string{"a"}},
			{ID: "d", Module: "m", DependsOn: []string{"b", "c"}},
		},
	}
	dag, err := newDAG(sub, time.Now())
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"a"}, idsOf(dag.readyTasks()))

	now := time.Now()
	dag.ApplyResult("a", protocol.Result{Success: true, DAGID: dag.DAGID}, now)
	require.Equal(t, []string{"b", "c"}, idsOf(dag.readyTasks()))

	dag.ApplyResult("b", protocol.Result{Success: true, DAGID: dag.DAGID}, now)
	require.Equal(t, []string{"c"}, idsOf(dag.readyTasks()))

	dag.ApplyResult("c", protocol.Result{Success: true, DAGID: dag.DAGID}, now)
	require.Equal(t, []string{"d"}, idsOf(dag.readyTasks()))

	dag.ApplyResult("d", protocol.Result{Success: true, DAGID: dag.DAGID}, now)
	require.Equal(t, DAGCompleted, dag.CurrentStatus())
}

func idsOf(tasks []protocol.TaskDescriptor) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func TestDAGsTableSubmitAndGet(t *testing.T) {
	table := NewDAGsTable()
	dag, err := table.Submit(linearSubmission(), time.Now())
	require.NoError(t, err)

	got, ok := table.Get(dag.DAGID)
	require.True(t, ok)
	require.Equal(t, dag.DAGID, got.DAGID)

	_, ok = table.Get("nonexistent")
	require.False(t, ok)
}

func TestDAGsTableIDsAndAll(t *testing.T) {
	table := NewDAGsTable()
	d1, err := table.Submit(linearSubmission(), time.Now())
	require.NoError(t, err)
	d2, err := table.Submit(protocol.DAGSubmission{Name: "solo", Tasks: []protocol.TaskDescriptor{{ID: "x", Module: "m"}}}, time.Now())
	require.NoError(t, err)

	require.ElementsMatch(t, []string{d1.DAGID, d2.DAGID}, table.IDs())
	require.Len(t, table.All(), 2)
}
