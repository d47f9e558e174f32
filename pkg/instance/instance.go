// Package instance implements the data model shared by the Tracker,
// the Lifecycle State Machine, and the Health & Readiness Engine: the
// Instance/Task/Condition types from spec section "Data model", and
// the UpdateEffect contract the Tracker returns for every mutation.
package instance

import (
	"time"

	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/google/uuid"
)

// Condition is the closed enumeration of instance/task lifecycle
// conditions.
type Condition string

const (
	Created             Condition = "Created"
	Reserved            Condition = "Reserved"
	Staging             Condition = "Staging"
	Starting            Condition = "Starting"
	Running             Condition = "Running"
	Killing             Condition = "Killing"
	Killed              Condition = "Killed"
	Finished            Condition = "Finished"
	Failed              Condition = "Failed"
	Error               Condition = "Error"
	Gone                Condition = "Gone"
	Dropped             Condition = "Dropped"
	Unknown             Condition = "Unknown"
	Unreachable         Condition = "Unreachable"
	UnreachableInactive Condition = "UnreachableInactive"
)

// IsActive reports whether a condition counts toward "currently
// active" capacity for scheduling/rollout purposes.
func (c Condition) IsActive() bool {
	switch c {
	case Running, Staging, Starting:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a condition is a terminal outcome: the
// instance/task will never transition further.
func (c Condition) IsTerminal() bool {
	switch c {
	case Killed, Finished, Failed, Error, Gone, Dropped, Unknown:
		return true
	default:
		return false
	}
}

// IsUnreachable reports whether c is one of the two unreachable
// conditions.
func (c Condition) IsUnreachable() bool {
	return c == Unreachable || c == UnreachableInactive
}

// KillSelection chooses which of several candidate instances to kill
// first, used both by the scale-down controller and by unreachable
// re-observation (spec section 4.3).
type KillSelection string

const (
	YoungestFirst KillSelection = "YoungestFirst"
	OldestFirst   KillSelection = "OldestFirst"
)

// AgentInfo describes the host an instance is placed on.
type AgentInfo struct {
	Host       string
	AgentID    string
	Attributes map[string]string
}

// InstanceState carries the instance's condition, the time it entered
// that condition, an optional time it last became active, and an
// optional health boolean (nil until the health engine has produced at
// least one result).
type InstanceState struct {
	Condition  Condition
	Since      time.Time
	ActiveAt   *time.Time
	Healthy    *bool

	// UnreachableSince is the time the instance first became
	// Unreachable, preserved across the Unreachable ->
	// UnreachableInactive transition so the expunge policy can measure
	// total unreachable duration rather than time-in-current-condition.
	// Cleared once the instance reconnects to an active condition.
	UnreachableSince *time.Time
}

// Instance is a single scheduled unit of a run-spec.
type Instance struct {
	ID                pathid.Path // run-spec id + opaque unique suffix, see NewID
	RunSpecID         pathid.Path
	Agent             AgentInfo
	State             InstanceState
	Tasks             map[string]*Task // task-id -> task
	RunSpecVersion    time.Time
	UnreachableStrategy UnreachableStrategy
}

// NewID mints a new instance id: the run-spec's path plus an opaque
// unique suffix (data model section 3).
func NewID(runSpecID pathid.Path) pathid.Path {
	return runSpecID.Child(uuid.NewString())
}

// UnreachableStrategy controls Unreachable -> UnreachableInactive ->
// expunge timing for a single run-spec (spec glossary).
type UnreachableStrategy struct {
	TimeUntilInactive time.Duration
	TimeUntilExpunge  time.Duration
}

// DefaultUnreachableStrategy mirrors the common defaults used across
// the example fleets the matcher targets.
func DefaultUnreachableStrategy() UnreachableStrategy {
	return UnreachableStrategy{
		TimeUntilInactive: 5 * time.Minute,
		TimeUntilExpunge:  10 * time.Minute,
	}
}

// IsActive reports whether the instance counts as currently active.
func (i *Instance) IsActive() bool {
	return i.State.Condition.IsActive()
}

// AllTasksRunning reports whether every task of the instance is in Running
// condition — a precondition the health/readiness decision rule in
// spec 4.4 builds on.
func (i *Instance) AllTasksRunning() bool {
	if len(i.Tasks) == 0 {
		return false
	}
	for _, t := range i.Tasks {
		if t.Status.Condition != Running {
			return false
		}
	}
	return true
}
