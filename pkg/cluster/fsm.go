package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/hashicorp/raft"
)

// Command is a single durable-state mutation replicated through the
// Raft log: a write or delete against the abstract Repository (spec
// section 6), keyed by pathid.Path the same way the Repository itself
// is. The FSM never interprets Data; that's the codec layer's job.
type Command struct {
	Op   CommandOp       `json:"op"`
	ID   pathid.Path     `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandOp is the closed set of Repository mutations the FSM applies.
type CommandOp string

const (
	OpPut     CommandOp = "put"
	OpDelete  CommandOp = "delete"
	OpPutRoot CommandOp = "put_root"
)

// FSM replicates Repository writes across the cluster: every voting
// member applies the same sequence of commands in the same order,
// giving every follower an up-to-date copy of declared and instance
// state without a second replication mechanism.
type FSM struct {
	mu   sync.RWMutex
	repo storage.Repository
}

// NewFSM creates an FSM backed by repo. repo is written to only from
// Apply, which Raft serializes, preserving the single-writer invariant
// (spec section 5) even though the set of physical writers across the
// cluster has grown to N.
func NewFSM(repo storage.Repository) *FSM {
	return &FSM{repo: repo}
}

// Apply applies one committed Raft log entry to the Repository.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("cluster: unmarshaling command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpPut:
		return f.repo.Put(cmd.ID, cmd.Data)
	case OpDelete:
		return f.repo.Delete(cmd.ID)
	case OpPutRoot:
		return f.repo.PutRoot(cmd.Data)
	default:
		return fmt.Errorf("cluster: unknown command op %q", cmd.Op)
	}
}

// Snapshot captures every entry under the root prefix for Raft's log
// compaction. Repository is the source of truth either way; the
// snapshot only bounds how far back a rejoining follower must replay.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids, err := f.repo.List(pathid.Root)
	if err != nil {
		return nil, fmt.Errorf("cluster: listing entries for snapshot: %w", err)
	}

	entries := make(map[pathid.Path][]byte, len(ids))
	for _, id := range ids {
		data, ok, err := f.repo.Get(id)
		if err != nil {
			return nil, fmt.Errorf("cluster: reading %s for snapshot: %w", id, err)
		}
		if ok {
			entries[id] = data
		}
	}

	var root []byte
	if data, ok, err := f.repo.Root(); err != nil {
		return nil, fmt.Errorf("cluster: reading root for snapshot: %w", err)
	} else if ok {
		root = data
	}

	return &fsmSnapshot{entries: entries, root: root}, nil
}

// Restore replaces the Repository's contents with a snapshot taken on
// another node, used when this node joins an existing cluster or falls
// far enough behind to need a full transfer instead of log replay.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap struct {
		Entries map[pathid.Path][]byte
		Root    []byte
	}
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("cluster: decoding snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.repo.List(pathid.Root)
	if err != nil {
		return fmt.Errorf("cluster: listing entries for restore: %w", err)
	}
	for _, id := range existing {
		if _, keep := snap.Entries[id]; !keep {
			if err := f.repo.Delete(id); err != nil {
				return fmt.Errorf("cluster: removing %s during restore: %w", id, err)
			}
		}
	}
	for id, data := range snap.Entries {
		if err := f.repo.Put(id, data); err != nil {
			return fmt.Errorf("cluster: restoring %s: %w", id, err)
		}
	}
	if snap.Root != nil {
		if err := f.repo.PutRoot(snap.Root); err != nil {
			return fmt.Errorf("cluster: restoring root: %w", err)
		}
	}
	return nil
}

type fsmSnapshot struct {
	entries map[pathid.Path][]byte
	root    []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		enc := json.NewEncoder(sink)
		return enc.Encode(struct {
			Entries map[pathid.Path][]byte
			Root    []byte
		}{Entries: s.entries, Root: s.root})
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
