package controller

import (
	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/spec"
)

// readinessTracker is the ReadinessBehavior mixin (spec section 9,
// design note): an embedded struct every step controller composes
// rather than inherits. It consumes instance-changed and
// instance-health-changed events and exposes isReady plus the
// onInstanceReady/onInstanceTerminated callbacks.
type readinessTracker struct {
	app       *spec.AppSpec
	instances InstanceSource
	health    HealthSource

	passed map[string]map[string]bool // instanceID -> readiness check name -> true
	ready  map[string]bool            // instanceID -> already reported ready

	onInstanceReady      func(instanceID string)
	onInstanceTerminated func(instanceID string)
}

func newReadinessTracker(app *spec.AppSpec, instances InstanceSource, health HealthSource) readinessTracker {
	return readinessTracker{
		app:       app,
		instances: instances,
		health:    health,
		passed:    make(map[string]map[string]bool),
		ready:     make(map[string]bool),
	}
}

// handleEvent folds a bus event relevant to readiness into the
// tracker's state and fires callbacks on transition.
func (r *readinessTracker) handleEvent(e events.Event) {
	if e.RunSpecID != r.app.ID().String() {
		return
	}
	switch e.Type {
	case events.ReadinessResultEvent:
		if e.Ready {
			r.markPassed(e.InstanceID, e.Reason)
		}
		r.reevaluate(e.InstanceID)
	case events.InstanceHealthChanged, events.StatusUpdateEvent, events.InstanceChangedEvent:
		r.reevaluate(e.InstanceID)
	}
}

func (r *readinessTracker) markPassed(instanceID, checkName string) {
	set, ok := r.passed[instanceID]
	if !ok {
		set = make(map[string]bool)
		r.passed[instanceID] = set
	}
	set[checkName] = true
}

func (r *readinessTracker) forget(instanceID string) {
	delete(r.passed, instanceID)
	wasReady := r.ready[instanceID]
	delete(r.ready, instanceID)
	if r.onInstanceTerminated != nil {
		_ = wasReady
		r.onInstanceTerminated(instanceID)
	}
}

func (r *readinessTracker) reevaluate(instanceID string) {
	inst := r.instances.Instance(pathIDOf(instanceID))
	if inst == nil {
		r.forget(instanceID)
		return
	}
	if inst.State.Condition.IsTerminal() || inst.State.Condition.IsUnreachable() {
		r.forget(instanceID)
		return
	}
	if r.isReady(inst) && !r.ready[instanceID] {
		r.ready[instanceID] = true
		if r.onInstanceReady != nil {
			r.onInstanceReady(instanceID)
		}
	}
}

// isReady applies the decision rule from spec section 4.4: combine
// health and readiness per whichever of the two the spec declares.
func (r *readinessTracker) isReady(inst *instance.Instance) bool {
	hasHealth := len(r.app.HealthChecks) > 0
	hasReadiness := len(r.app.ReadinessChecks) > 0

	if !hasHealth && !hasReadiness {
		return inst.State.Condition == instance.Running
	}

	running := inst.State.Condition == instance.Running
	healthy := true
	if hasHealth {
		healthy = r.allHealthChecksPass(inst.ID.String())
	}
	readinessOK := true
	if hasReadiness {
		readinessOK = running && r.allReadinessChecksPass(inst.ID.String())
	}

	switch {
	case hasHealth && hasReadiness:
		return healthy && readinessOK
	case hasHealth:
		return healthy
	default:
		return readinessOK
	}
}

func (r *readinessTracker) allHealthChecksPass(instanceID string) bool {
	for i := range r.app.HealthChecks {
		healthy := r.health.IsHealthy(r.app.ID(), i, instanceID)
		if healthy == nil || !*healthy {
			return false
		}
	}
	return true
}

func (r *readinessTracker) allReadinessChecksPass(instanceID string) bool {
	set := r.passed[instanceID]
	for _, chk := range r.app.ReadinessChecks {
		if set == nil || !set[chk.Name] {
			return false
		}
	}
	return true
}

// isReadyNow exposes isReady for a freshly-observed instance without
// requiring a prior event, used by controllers reconciling
// already-started instances at step start (spec 4.6.3 step 1).
func (r *readinessTracker) isReadyNow(instanceID string) bool {
	inst := r.instances.Instance(pathIDOf(instanceID))
	if inst == nil {
		return false
	}
	ready := r.isReady(inst)
	if ready {
		r.ready[instanceID] = true
	}
	return ready
}
