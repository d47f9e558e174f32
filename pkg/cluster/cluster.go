// Package cluster implements the Leader Election collaborator (spec
// section 6) on top of hashicorp/raft: the orchestrator's core
// (Tracker, Launch Queue, Step Controllers, Planner/Executor) runs
// unmodified on every node, but only the elected leader drives the
// Resource-Offer Matcher and the Deployment Executor against the
// external resource manager. Declared and instance state replicate
// through the Raft log into every member's Repository via FSM.
package cluster

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures a cluster node's Raft participation.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Cluster wraps a Raft instance and its FSM, exposing the leader
// election and command-replication surface the rest of the core needs
// (offers.LeaderElection plus Apply).
type Cluster struct {
	cfg    Config
	logger zerolog.Logger

	raft *raft.Raft
	fsm  *FSM
	repo storage.Repository

	mu        sync.Mutex
	onLostFns []func()
}

// New creates a cluster node wired to repo but does not start Raft;
// call Bootstrap or Join.
func New(cfg Config, repo storage.Repository) *Cluster {
	return &Cluster{
		cfg:    cfg,
		logger: log.WithComponent("cluster"),
		fsm:    NewFSM(repo),
		repo:   repo,
	}
}

// raftConfig tunes timeouts for faster failover on a LAN-scale
// deployment than hashicorp/raft's WAN-oriented defaults.
func (c *Cluster) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(c.cfg.NodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (c *Cluster) newRaft() (*raft.Raft, *raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", c.cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: resolving bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(c.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: creating transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: creating snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: creating log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: creating stable store: %w", err)
	}

	r, err := raft.NewRaft(c.raftConfig(), c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: creating raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap starts a brand-new single-node cluster with this node as
// its only voter.
func (c *Cluster) Bootstrap() error {
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cluster: creating data dir: %w", err)
	}

	r, transport, err := c.newRaft()
	if err != nil {
		return err
	}
	c.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(c.cfg.NodeID), Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("cluster: bootstrapping: %w", err)
	}

	c.watchLeadership()
	return nil
}

// Join starts this node's Raft instance against an already-bootstrapped
// cluster; the caller is expected to have the leader add this node as
// a voter via AddVoter out of band (spec section 6 leaves the join
// handshake's transport unspecified).
func (c *Cluster) Join() error {
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cluster: creating data dir: %w", err)
	}

	r, _, err := c.newRaft()
	if err != nil {
		return err
	}
	c.raft = r

	c.watchLeadership()
	return nil
}

// AddVoter admits a new node to the cluster; only the leader may call
// this successfully.
func (c *Cluster) AddVoter(nodeID, addr string) error {
	if c.raft == nil {
		return fmt.Errorf("cluster: raft not started")
	}
	if !c.IsLeader() {
		return fmt.Errorf("cluster: not leader")
	}
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this node currently holds Raft leadership
// (offers.LeaderElection).
func (c *Cluster) IsLeader() bool {
	if c.raft == nil {
		return false
	}
	return c.raft.State() == raft.Leader
}

// OnLost registers fn to be invoked whenever this node transitions from
// leader to non-leader (offers.LeaderElection). Registered callbacks
// fire on the watchLeadership goroutine; callers that need to block the
// transition should hand off to their own goroutine.
func (c *Cluster) OnLost(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLostFns = append(c.onLostFns, fn)
}

func (c *Cluster) watchLeadership() {
	go func() {
		for leader := range c.raft.LeaderCh() {
			if leader {
				c.logger.Info().Msg("acquired leadership")
				continue
			}
			c.logger.Info().Msg("lost leadership")
			c.mu.Lock()
			fns := append([]func(){}, c.onLostFns...)
			c.mu.Unlock()
			for _, fn := range fns {
				fn()
			}
		}
	}()
}

// Apply replicates a Repository mutation through the Raft log and
// blocks until it's committed, so every cluster member's FSM applies
// the same mutation. The Tracker does not use it: it writes to the
// Repository directly.
func (c *Cluster) Apply(cmd Command) error {
	if c.raft == nil {
		return fmt.Errorf("cluster: raft not started")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("cluster: marshaling command: %w", err)
	}
	future := c.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("cluster: applying command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// ApplyPut is a convenience wrapper replicating a single Put.
func (c *Cluster) ApplyPut(id pathid.Path, data []byte) error {
	return c.Apply(Command{Op: OpPut, ID: id, Data: data})
}

// ApplyDelete is a convenience wrapper replicating a single Delete.
func (c *Cluster) ApplyDelete(id pathid.Path) error {
	return c.Apply(Command{Op: OpDelete, ID: id})
}

// ApplyPutRoot is a convenience wrapper replicating a root group tree
// write.
func (c *Cluster) ApplyPutRoot(data []byte) error {
	return c.Apply(Command{Op: OpPutRoot, Data: data})
}

// Shutdown stops this node's Raft participation.
func (c *Cluster) Shutdown() error {
	if c.raft == nil {
		return nil
	}
	future := c.raft.Shutdown()
	return future.Error()
}
