package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/fabricguard/fabric/internal/protocol"
)

// Executor runs one task's module against its inputs and returns the
// result's output/error, never the terminal Result itself — duration and
// dag_id are stamped by the caller once the executor returns.
type Executor interface {
	Execute(ctx context.Context, task protocol.TaskDescriptor) (output string, err error)
}

// Registry dispatches to an Executor by task module, matching the
// reference monorepo's MultiTaskExecutor routing on task type.
type Registry struct {
	byModule map[string]Executor
	fallback Executor
}

// NewRegistry builds the default registry: "http" tasks go to the HTTP
// executor, "shell" tasks go to the shell executor, everything else falls
// back to the shell executor (the sandbox executor is out of scope per
// SPEC_FULL.md §1 — this is sample tooling standing in for it).
func NewRegistry(httpClient *http.Client) *Registry {
	shell := &ShellExecutor{}
	return &Registry{
		byModule: map[string]Executor{
			"http":  &HTTPExecutor{client: httpClient},
			"shell": shell,
		},
		fallback: shell,
	}
}

func (r *Registry) Execute(ctx context.Context, task protocol.TaskDescriptor) (string, error) {
	exec, ok := r.byModule[task.Module]
	if !ok {
		exec = r.fallback
	}
	return exec.Execute(ctx, task)
}

// HTTPExecutor executes an HTTP task whose first input is the request URL
// and second (optional) input is the HTTP method, mirroring the reference
// monorepo's HTTPTaskExecutor minus templating (the Controller carries no
// cross-task execution context for a worker to resolve against).
type HTTPExecutor struct {
	client *http.Client
}

func (e *HTTPExecutor) Execute(ctx context.Context, task protocol.TaskDescriptor) (string, error) {
	if len(task.Inputs) == 0 {
		return "", fmt.Errorf("http task %s requires a URL as its first input", task.ID)
	}
	url, ok := task.Inputs[0].(string)
	if !ok {
		return "", fmt.Errorf("http task %s: first input must be a URL string", task.ID)
	}
	method := http.MethodGet
	if len(task.Inputs) > 1 {
		if m, ok := task.Inputs[1].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}
	}

	client := e.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http error %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

// ShellExecutor runs the task's module as a subprocess with the task's
// inputs as arguments, matching the "thin wrapper: a subprocess invocation
// returning stdout/stderr/exit-code" description of the executor in
// SPEC_FULL.md §1.
type ShellExecutor struct{}

func (e *ShellExecutor) Execute(ctx context.Context, task protocol.TaskDescriptor) (string, error) {
	args := make([]string, 0, len(task.Inputs))
	for _, in := range task.Inputs {
		args = append(args, fmt.Sprintf("%v", in))
	}

	cmd := exec.CommandContext(ctx, task.Module, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("exec %s: %w: %s", task.Module, err, stderr.String())
	}
	return stdout.String(), nil
}
