// Command fabricctl is a menu-free reference client: it submits workflow
// files, and queries fleet or DAG status, speaking the fabric wire
// protocol directly. It is sample tooling standing in for the "menu-driven
// terminal client" that SPEC_FULL.md §1 places out of the Controller's
// scope.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabricguard/fabric/internal/codec"
	"github.com/fabricguard/fabric/internal/fabric"
	"github.com/fabricguard/fabric/internal/protocol"
)

// workflowFile mirrors the YAML workflow schema pinned by SPEC_FULL.md §6:
// a top-level name and a list of tasks with id/module/inputs/depends_on.
type workflowFile struct {
	Name  string         `yaml:"name"`
	Tasks []workflowTask `yaml:"tasks"`
}

type workflowTask struct {
	ID        string   `yaml:"id"`
	Module    string   `yaml:"module"`
	Inputs    []any    `yaml:"inputs,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
}

func main() {
	controller := flag.String("controller", "127.0.0.1:5000", "Controller address")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	conn, err := net.DialTimeout("tcp", *controller, 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	var cmdErr error
	switch args[0] {
	case "submit":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		cmdErr = runSubmit(conn, args[1])
	case "status":
		cmdErr = runStatus(conn)
	case "dag-status":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		cmdErr = runDAGStatus(conn, args[1])
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "error:", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fabricctl [--controller host:port] submit <workflow.yaml> | status | dag-status <dag_id>")
}

func runSubmit(conn net.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var wf workflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	tasks := make([]protocol.TaskDescriptor, len(wf.Tasks))
	for i, t := range wf.Tasks {
		tasks[i] = protocol.TaskDescriptor{ID: t.ID, Module: t.Module, Inputs: t.Inputs, DependsOn: t.DependsOn}
	}

	var resp protocol.Response
	if err := roundTrip(conn, map[string]any{
		"type": protocol.TypeSubmitDAG,
		"dag":  protocol.DAGSubmission{Name: wf.Name, Tasks: tasks},
	}, &resp); err != nil {
		return err
	}
	if resp.Status == "error" {
		return fmt.Errorf("%s", resp.Message)
	}
	fmt.Printf("submitted %q as dag_id=%s\n", wf.Name, resp.DAGID)
	return nil
}

func runStatus(conn net.Conn) error {
	var resp protocol.Response
	if err := roundTrip(conn, map[string]any{"type": protocol.TypeGetStatus}, &resp); err != nil {
		return err
	}
	if resp.Status == "error" {
		return fmt.Errorf("%s", resp.Message)
	}

	var nodes map[string]fabric.NodeSnapshot
	if err := json.Unmarshal(resp.Nodes, &nodes); err != nil {
		return err
	}
	var dags map[string]fabric.DAGSnapshot
	if err := json.Unmarshal(resp.DAGs, &dags); err != nil {
		return err
	}

	fmt.Printf("nodes (%d):\n", len(nodes))
	for id, n := range nodes {
		fmt.Printf("  %-20s status=%-5s task_count=%-4d current_task=%s\n", id, n.Status, n.TaskCount, n.CurrentTask)
	}
	fmt.Printf("dags (%d):\n", len(dags))
	for id, d := range dags {
		fmt.Printf("  %-10s %-20s status=%-10s %d/%d\n", id, d.Name, d.Status, d.CompletedTasks, d.TotalTasks)
	}
	return nil
}

func runDAGStatus(conn net.Conn, dagID string) error {
	var resp protocol.Response
	if err := roundTrip(conn, map[string]any{"type": protocol.TypeGetDAGStatus, "dag_id": dagID}, &resp); err != nil {
		return err
	}
	if resp.Status == "error" {
		return fmt.Errorf("%s", resp.Message)
	}
	var dag fabric.DAGSnapshot
	if err := json.Unmarshal(resp.DAG, &dag); err != nil {
		return err
	}
	fmt.Printf("%s: status=%s %d/%d tasks\n", dag.Name, dag.Status, dag.CompletedTasks, dag.TotalTasks)
	for id, status := range dag.Tasks {
		fmt.Printf("  %-20s %s\n", id, status)
	}
	return nil
}

func roundTrip(conn net.Conn, req any, resp *protocol.Response) error {
	if err := codec.WriteFrame(conn, req); err != nil {
		return err
	}
	return codec.ReadFrame(conn, resp)
}
