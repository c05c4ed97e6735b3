// Package journal is an append-only, non-authoritative event log of
// Controller state transitions, backed by bbolt. It exists purely for
// post-hoc debugging and crash diagnosis — the Controller never reads it
// back to reconstruct state on restart (see the Non-goals in SPEC_FULL.md:
// a restart still loses every worker, DAG, and in-flight task).
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketWorkers = []byte("workers")
	bucketDAGs    = []byte("dags")
	bucketTasks   = []byte("tasks")
)

// Record is one appended event. Kind is the event class ("register_node",
// "task_result", "dag_completed", "worker_reaped", ...); Detail is whatever
// the caller wants preserved, marshaled verbatim as JSON.
type Record struct {
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Detail any       `json:"detail"`
}

// Journal wraps a bbolt database with one append-only bucket per event
// class. It is safe for concurrent use: bbolt serializes writers
// internally, so the journal itself needs no additional lock.
type Journal struct {
	db *bbolt.DB
}

// Open creates or opens the journal file at path, creating its buckets if
// absent.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkers, bucketDAGs, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create buckets: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database file.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// AppendWorkerEvent records a Workers-table transition (register, reap).
func (j *Journal) AppendWorkerEvent(kind, nodeID string, detail any) {
	j.append(bucketWorkers, nodeID, kind, detail)
}

// AppendDAGEvent records a DAGs-table transition (submit, completion).
func (j *Journal) AppendDAGEvent(kind, dagID string, detail any) {
	j.append(bucketDAGs, dagID, kind, detail)
}

// AppendTaskEvent records a per-task transition (result ingested, retry).
func (j *Journal) AppendTaskEvent(kind, taskID string, detail any) {
	j.append(bucketTasks, taskID, kind, detail)
}

// append is fire-and-forget from the caller's perspective: a write failure
// is logged at Warn and never propagated, since the journal is explicitly
// non-authoritative and must never block or fail the request it attaches to.
func (j *Journal) append(bucket []byte, key, kind string, detail any) {
	if j == nil || j.db == nil {
		return
	}
	rec := Record{Kind: kind, At: time.Now(), Detail: detail}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("journal: marshal record failed", "kind", kind, "error", err)
		return
	}
	err = j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		storageKey := fmt.Sprintf("%020d-%s", seq, key)
		return b.Put([]byte(storageKey), data)
	})
	if err != nil {
		slog.Warn("journal: append failed", "kind", kind, "error", err)
	}
}
