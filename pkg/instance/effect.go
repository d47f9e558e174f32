package instance

import "time"

// UpdateOp is the closed set of mutations the Tracker accepts (spec
// section "Instance Tracker").
type UpdateOp interface {
	isUpdateOp()
}

// LaunchEphemeral creates a new instance with one freshly launched,
// non-reserved task.
type LaunchEphemeral struct {
	Instance *Instance
}

// LaunchOnReservation launches a task against a previously reserved
// slot on an existing instance.
type LaunchOnReservation struct {
	InstanceID string
	Task       *Task
}

// Reserve creates a Reserved task (resources held, not running) on a
// resident run-spec.
type Reserve struct {
	Instance *Instance
}

// MesosUpdate folds an external status update into the task identified
// by TaskID. Rejected with Failure if the task is Reserved (spec
// invariant iv: "A Reserved task never transitions via an external
// status update").
type MesosUpdate struct {
	InstanceID string
	TaskID     string
	Condition  Condition
	Reason     string
	Now        time.Time
}

// ReservationTimeout expunges a Reserved task/instance that was never
// launched against within its reservation window.
type ReservationTimeout struct {
	InstanceID string
}

// ForceExpunge unconditionally removes an instance, used by the
// unreachable-expunge policy.
type ForceExpunge struct {
	InstanceID string
	Reason     string
}

// MarkUnreachableInactive transitions an instance from Unreachable to
// UnreachableInactive once its run-spec's TimeUntilInactive has
// elapsed (spec glossary; lifecycle policy).
type MarkUnreachableInactive struct {
	InstanceID string
	Now        time.Time
}

func (LaunchEphemeral) isUpdateOp()          {}
func (LaunchOnReservation) isUpdateOp()      {}
func (Reserve) isUpdateOp()                  {}
func (MesosUpdate) isUpdateOp()              {}
func (ReservationTimeout) isUpdateOp()       {}
func (ForceExpunge) isUpdateOp()             {}
func (MarkUnreachableInactive) isUpdateOp()  {}

// EffectKind distinguishes the four possible mutation outcomes.
type EffectKind string

const (
	EffectUpdate  EffectKind = "Update"
	EffectExpunge EffectKind = "Expunge"
	EffectNoop    EffectKind = "Noop"
	EffectFailure EffectKind = "Failure"
)

// Event is a lightweight tracker-internal change notification; the
// Tracker translates these into the typed events.Bus messages
// (InstanceChanged etc.) after a successful repository write.
type Event struct {
	Name string
	Data map[string]string
}

// UpdateEffect is the result of every Tracker mutation: exactly one of
// Update, Expunge, Noop or Failure, per spec section 4.2.
type UpdateEffect struct {
	Kind   EffectKind
	Old    *Instance
	New    *Instance
	Events []Event
	Reason string // populated only for EffectFailure
}

func Updated(old, updated *Instance, events ...Event) UpdateEffect {
	return UpdateEffect{Kind: EffectUpdate, Old: old, New: updated, Events: events}
}

func Expunged(old *Instance, events ...Event) UpdateEffect {
	return UpdateEffect{Kind: EffectExpunge, Old: old, Events: events}
}

func Noop() UpdateEffect {
	return UpdateEffect{Kind: EffectNoop}
}

func FailureEffect(reason string) UpdateEffect {
	return UpdateEffect{Kind: EffectFailure, Reason: reason}
}
