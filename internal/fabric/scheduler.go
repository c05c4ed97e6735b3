package fabric

import (
	"sync"
	"time"

	"github.com/fabricguard/fabric/internal/protocol"
)

// Assignment records a task handed to a worker and awaiting resolution.
type Assignment struct {
	WorkerID   string
	Descriptor protocol.TaskDescriptor
	StartTime  time.Time
}

// Scheduler owns the ready_queue / pending_index / in_flight collections
// of spec §3, kept mutually consistent under a single lock: a task id is
// in at most one of {pending_index, in_flight} at any instant.
type Scheduler struct {
	mu           sync.Mutex
	readyQueue   []protocol.TaskDescriptor
	pendingIndex map[string]protocol.TaskDescriptor
	inFlight     map[string]Assignment
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		pendingIndex: make(map[string]protocol.TaskDescriptor),
		inFlight:     make(map[string]Assignment),
	}
}

// Enqueue appends a ready task to the tail of the queue unless it is
// already pending or in flight (at-most-once enqueue per task).
func (s *Scheduler) Enqueue(t protocol.TaskDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(t)
}

func (s *Scheduler) enqueueLocked(t protocol.TaskDescriptor) {
	if _, pending := s.pendingIndex[t.ID]; pending {
		return
	}
	if _, running := s.inFlight[t.ID]; running {
		return
	}
	s.readyQueue = append(s.readyQueue, t)
	s.pendingIndex[t.ID] = t
}

// Dequeue pops the head of the ready queue for workerID, recording the
// assignment in in_flight. Returns (descriptor, true) or (zero, false) if
// the queue is empty.
func (s *Scheduler) Dequeue(workerID string, now time.Time) (protocol.TaskDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readyQueue) == 0 {
		return protocol.TaskDescriptor{}, false
	}
	t := s.readyQueue[0]
	s.readyQueue = s.readyQueue[1:]
	delete(s.pendingIndex, t.ID)
	s.inFlight[t.ID] = Assignment{WorkerID: workerID, Descriptor: t, StartTime: now}
	return t, true
}

// Resolve removes a task from in_flight. On failure (success=false) it is
// re-appended to the tail of the ready queue — the at-least-once retry
// path, uncapped per spec §4.5/§9.
func (s *Scheduler) Resolve(taskID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, ok := s.inFlight[taskID]
	if !ok {
		return
	}
	delete(s.inFlight, taskID)
	if !success {
		s.enqueueLocked(assignment.Descriptor)
	}
}

// ReclaimWorker moves every in_flight entry belonging to workerID back
// onto the ready queue, used by the Reaper when a worker is evicted.
func (s *Scheduler) ReclaimWorker(workerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reclaimed []string
	for taskID, assignment := range s.inFlight {
		if assignment.WorkerID != workerID {
			continue
		}
		delete(s.inFlight, taskID)
		s.enqueueLocked(assignment.Descriptor)
		reclaimed = append(reclaimed, taskID)
	}
	return reclaimed
}

// QueueDepth reports the current ready queue length, used for metrics.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readyQueue)
}

// InFlightCount reports how many tasks are currently assigned.
func (s *Scheduler) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}
