package offers

import (
	"context"
	"time"
)

// TaskInfo is the atomic launch descriptor the matcher produces and
// the ResourceManager consumes (section 4.1's "Result").
type TaskInfo struct {
	TaskID      string
	AgentID     string
	Selection   ResourceSelection
	Command     []string
	Image       string
	Env         map[string]string
	Labels      map[string]string
	Discovery   []DiscoveryPort
	Networks    []string
	HealthCheck []byte // opaque, protocol-translated payload when delegated to the external manager
	KillGrace   *time.Duration
}

// DiscoveryPort is one declared-port entry in the discovery-info
// payload (section 4.1 step 6): one per declared port, scoped "host"
// or "container" depending on whether it is host-exposed.
type DiscoveryPort struct {
	Name     string
	Protocol string
	Scope    string // "host" or "container"
	Port     int
}

// StatusUpdate is a push notification from the external manager
// (section 6's collaborator table).
type StatusUpdate struct {
	TaskID    string
	Reason    string // e.g. "TASK_RUNNING"; mapped via instance.ConditionForReason
	Timestamp time.Time
	Message   string
}

// ResourceManager is the external two-level resource-offer framework
// collaborator (section 6): it streams Offers and accepts launch/kill/
// reconcile/acknowledge operations.
type ResourceManager interface {
	Offers(ctx context.Context) (<-chan Offer, error)
	Launch(ctx context.Context, offerID string, tasks []TaskInfo) error
	Kill(ctx context.Context, taskID string) error
	Reconcile(ctx context.Context, taskIDs []string) error
	Acknowledge(ctx context.Context, update StatusUpdate) error
}

// KillService completes when the external manager acknowledges a
// terminal status update for the killed instance(s).
type KillService interface {
	KillInstance(ctx context.Context, instanceID, reason string) error
	KillInstances(ctx context.Context, instanceIDs []string, reason string) error
}

// LeaderElection abstracts leader election (section 6): OnLost
// registers a callback invoked when leadership is lost. The deploy
// executor registers no such callback, so leadership loss does not shut
// down its live controllers.
type LeaderElection interface {
	IsLeader() bool
	OnLost(fn func())
}
