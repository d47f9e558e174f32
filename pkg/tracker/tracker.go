// Package tracker implements the Instance Tracker (spec section 4.2):
// the authoritative in-memory index of every run-spec's instances,
// owned by a single goroutine and mutated only through typed update
// ops delivered over a command channel.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/health"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/rs/zerolog"
)

// ReplacementKiller is the subset of the external Kill Service the
// tracker drives when a lost instance reappears and a replacement was
// launched in its place while it was gone (spec section 4.3).
type ReplacementKiller interface {
	KillInstance(ctx context.Context, instanceID, reason string) error
}

// KillSelectionLookup resolves a run-spec's configured victim-selection
// policy, used only to pick which replacement to kill on re-observation;
// scale-down victim selection reads the same policy directly off the
// spec (pkg/controller/scale.go).
type KillSelectionLookup func(runSpecID pathid.Path) instance.KillSelection

// Tracker owns map[runSpecID]map[instanceID]*Instance behind a single
// consumer goroutine (spec section 5: "each... is an isolated ordered
// consumer"). All access goes through process/query commands.
type Tracker struct {
	repo   storage.Repository
	bus    *events.Bus
	logger zerolog.Logger

	cmdCh  chan command
	stopCh chan struct{}

	instances map[pathid.Path]map[pathid.Path]*instance.Instance

	killSelectLookup  KillSelectionLookup
	replacementKiller ReplacementKiller
}

// SetReplacementKiller wires the collaborators needed to implement
// unreachable re-observation's replacement kill (spec section 4.3): when
// a lost instance returns to Running, the tracker looks up lookup(runSpecID)
// to choose YoungestFirst/OldestFirst and asks killer to kill the
// replacement instance launched in the meantime. Left unset, the tracker
// still tracks the reobserved instance correctly but performs no
// replacement kill (matching this module's pattern of leaving undriven
// collaborators optional — see DESIGN.md).
func (t *Tracker) SetReplacementKiller(lookup KillSelectionLookup, killer ReplacementKiller) {
	t.killSelectLookup = lookup
	t.replacementKiller = killer
}

type command struct {
	fn func()
}

// NewTracker creates a tracker backed by repo, publishing change
// notifications on bus. Call Start to begin its consumer loop.
func NewTracker(repo storage.Repository, bus *events.Bus) *Tracker {
	return &Tracker{
		repo:      repo,
		bus:       bus,
		logger:    log.WithComponent("tracker"),
		cmdCh:     make(chan command, 256),
		stopCh:    make(chan struct{}),
		instances: make(map[pathid.Path]map[pathid.Path]*instance.Instance),
	}
}

// Start loads every persisted instance and begins the tracker's
// consumer loop.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.loadAll(); err != nil {
		return fmt.Errorf("tracker: loading persisted instances: %w", err)
	}
	go t.run(ctx)
	return nil
}

func (t *Tracker) loadAll() error {
	ids, err := t.repo.List(pathid.Root)
	if err != nil {
		return err
	}
	for _, id := range ids {
		inst, ok, err := storage.GetInstance(t.repo, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		t.index(inst)
	}
	return nil
}

func (t *Tracker) index(inst *instance.Instance) {
	bucket, ok := t.instances[inst.RunSpecID]
	if !ok {
		bucket = make(map[pathid.Path]*instance.Instance)
		t.instances[inst.RunSpecID] = bucket
	}
	bucket[inst.ID] = inst
}

func (t *Tracker) unindex(inst *instance.Instance) {
	if bucket, ok := t.instances[inst.RunSpecID]; ok {
		delete(bucket, inst.ID)
		if len(bucket) == 0 {
			delete(t.instances, inst.RunSpecID)
		}
	}
}

func (t *Tracker) run(ctx context.Context) {
	for {
		select {
		case cmd := <-t.cmdCh:
			cmd.fn()
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		}
	}
}

// Stop halts the tracker's consumer loop.
func (t *Tracker) Stop() {
	close(t.stopCh)
}

// call submits fn to run on the tracker's owning goroutine and blocks
// until it completes.
func (t *Tracker) call(fn func()) {
	done := make(chan struct{})
	t.cmdCh <- command{fn: func() {
		fn()
		close(done)
	}}
	<-done
}

// InstancesBySpec returns a snapshot of every tracked instance grouped
// by run-spec id.
func (t *Tracker) InstancesBySpec() map[pathid.Path][]*instance.Instance {
	var out map[pathid.Path][]*instance.Instance
	t.call(func() {
		out = make(map[pathid.Path][]*instance.Instance, len(t.instances))
		for specID, bucket := range t.instances {
			for _, inst := range bucket {
				out[specID] = append(out[specID], inst)
			}
		}
	})
	return out
}

// SpecInstances returns a snapshot of the instances of a single
// run-spec.
func (t *Tracker) SpecInstances(runSpecID pathid.Path) []*instance.Instance {
	var out []*instance.Instance
	t.call(func() {
		for _, inst := range t.instances[runSpecID] {
			out = append(out, inst)
		}
	})
	return out
}

// Instance returns a single instance by id, or nil if untracked.
func (t *Tracker) Instance(id pathid.Path) *instance.Instance {
	var out *instance.Instance
	t.call(func() {
		for _, bucket := range t.instances {
			if inst, ok := bucket[id]; ok {
				out = inst
				return
			}
		}
	})
	return out
}

// HealthTargets implements health.TargetLister: it reports one target
// per task of the run-spec's tracked instances, unreachable ones
// included, in a form the Health
// Engine can probe directly without a tracker-package dependency.
func (t *Tracker) HealthTargets(runSpecID pathid.Path) []health.Target {
	var out []health.Target
	t.call(func() {
		for _, inst := range t.instances[runSpecID] {
			unreachable := inst.State.Condition.IsUnreachable()
			for _, task := range inst.Tasks {
				addr := inst.Agent.Host
				if len(task.Status.Network.HostPorts) > 0 && task.Status.Network.HostPorts[0] != nil {
					addr = fmt.Sprintf("%s:%d", inst.Agent.Host, *task.Status.Network.HostPorts[0])
				}
				out = append(out, health.Target{
					InstanceID:  inst.ID.String(),
					TaskID:      task.ID,
					Address:     addr,
					Running:     task.Status.Condition == instance.Running,
					Unreachable: unreachable,
				})
			}
		}
	})
	return out
}

// LaunchedTasks returns every task currently tracked for a run-spec's
// instances, across all of them.
func (t *Tracker) LaunchedTasks(runSpecID pathid.Path) []*instance.Task {
	var out []*instance.Task
	t.call(func() {
		for _, inst := range t.instances[runSpecID] {
			for _, task := range inst.Tasks {
				out = append(out, task)
			}
		}
	})
	return out
}

// Process applies op on the tracker's owning goroutine and returns its
// UpdateEffect. Every mutation is persisted through the repository
// before the effect is returned (spec section 4.2's contract) and,
// on success, published onto the event bus.
func (t *Tracker) Process(op instance.UpdateOp) instance.UpdateEffect {
	var effect instance.UpdateEffect
	t.call(func() {
		effect = t.apply(op)
	})
	metrics.TrackerUpdatesTotal.WithLabelValues(string(effect.Kind)).Inc()
	return effect
}

func (t *Tracker) apply(op instance.UpdateOp) instance.UpdateEffect {
	switch o := op.(type) {
	case instance.LaunchEphemeral:
		return t.applyLaunch(o.Instance)
	case instance.Reserve:
		return t.applyLaunch(o.Instance)
	case instance.LaunchOnReservation:
		return t.applyLaunchOnReservation(o)
	case instance.MesosUpdate:
		return t.applyMesosUpdate(o)
	case instance.ReservationTimeout:
		return t.applyForceExpunge(o.InstanceID, "reservation timeout")
	case instance.ForceExpunge:
		return t.applyForceExpunge(o.InstanceID, o.Reason)
	case instance.MarkUnreachableInactive:
		return t.applyMarkUnreachableInactive(o)
	default:
		return instance.FailureEffect(fmt.Sprintf("tracker: unknown update op %T", op))
	}
}

func (t *Tracker) applyLaunch(inst *instance.Instance) instance.UpdateEffect {
	if inst == nil {
		return instance.FailureEffect("tracker: nil instance in launch op")
	}
	if err := storage.PutInstance(t.repo, inst); err != nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: persisting instance: %v", err))
	}
	t.index(inst)

	ev := events.Event{Type: events.InstanceChangedEvent, RunSpecID: inst.RunSpecID.String(), InstanceID: inst.ID.String()}
	t.bus.Publish(ev)
	return instance.Updated(nil, inst, instance.Event{Name: "instance_changed"})
}

func (t *Tracker) applyLaunchOnReservation(o instance.LaunchOnReservation) instance.UpdateEffect {
	inst := t.findByID(pathid.Path(o.InstanceID))
	if inst == nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: launch on reservation for unknown instance %s", o.InstanceID))
	}
	old := cloneInstance(inst)
	inst.Tasks[o.Task.ID] = o.Task

	if err := storage.PutInstance(t.repo, inst); err != nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: persisting instance: %v", err))
	}
	t.bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: inst.RunSpecID.String(), InstanceID: inst.ID.String()})
	return instance.Updated(old, inst)
}

func (t *Tracker) applyMesosUpdate(o instance.MesosUpdate) instance.UpdateEffect {
	inst := t.findByID(pathid.Path(o.InstanceID))
	if inst == nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: status update for unknown instance %s", o.InstanceID))
	}
	task, ok := inst.Tasks[o.TaskID]
	if !ok {
		return instance.FailureEffect(fmt.Sprintf("tracker: status update for unknown task %s", o.TaskID))
	}
	// Protocol invariant (spec section 3.iv, section 4.2): a Reserved
	// task never transitions via an external status update.
	if task.Kind == instance.TaskReserved {
		return instance.FailureEffect(fmt.Sprintf("tracker: MesosUpdate on Reserved task %s", o.TaskID))
	}

	old := cloneInstance(inst)
	task.Status.Condition = o.Condition
	task.Status.LastReason = o.Reason
	inst.State.Condition = o.Condition
	inst.State.Since = o.Now
	if o.Condition == instance.Running && inst.State.ActiveAt == nil {
		now := o.Now
		inst.State.ActiveAt = &now
	}
	if o.Condition == instance.Unreachable {
		if inst.State.UnreachableSince == nil {
			now := o.Now
			inst.State.UnreachableSince = &now
		}
	} else if !o.Condition.IsUnreachable() {
		inst.State.UnreachableSince = nil
	}

	if err := storage.PutInstance(t.repo, inst); err != nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: persisting instance: %v", err))
	}

	t.bus.Publish(events.Event{Type: events.StatusUpdateEvent, RunSpecID: inst.RunSpecID.String(), InstanceID: inst.ID.String(), TaskID: o.TaskID, Reason: o.Reason})
	t.bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: inst.RunSpecID.String(), InstanceID: inst.ID.String()})

	if o.Condition.IsTerminal() {
		t.unindex(inst)
		if err := storage.DeleteInstance(t.repo, inst.ID); err != nil {
			t.logger.Error().Err(err).Str("instance_id", inst.ID.String()).Msg("failed to delete terminal instance from repository")
		}
		return instance.Expunged(old, instance.Event{Name: "instance_terminal"})
	}

	// Re-observation: a previously lost instance is reporting Running
	// again. The replacement launched while it was unreachable must be
	// retired per killSelection (spec section 4.3: "re-observation of a
	// lost instance returns it to Running and triggers the kill of any
	// replacement spawned in the meantime"). Done asynchronously since
	// the kill is an external RPC and must not block this consumer.
	if old.State.Condition.IsUnreachable() && o.Condition == instance.Running {
		go t.handleReobservation(inst.RunSpecID, inst.ID, old.State.UnreachableSince)
	}

	return instance.Updated(old, inst)
}

// handleReobservation selects and kills the replacement instance
// launched for runSpecID while reobservedID was unreachable. A
// replacement is any other active instance of the same run-spec whose
// Since postdates unreachableSince; the victim is chosen per the
// run-spec's configured killSelection (default YoungestFirst, matching
// spec scenario 3).
func (t *Tracker) handleReobservation(runSpecID, reobservedID pathid.Path, unreachableSince *time.Time) {
	if t.replacementKiller == nil || unreachableSince == nil {
		return
	}

	sel := instance.YoungestFirst
	if t.killSelectLookup != nil {
		sel = t.killSelectLookup(runSpecID)
	}

	var candidates []*instance.Instance
	t.call(func() {
		for _, sib := range t.instances[runSpecID] {
			if sib.ID == reobservedID || !sib.IsActive() {
				continue
			}
			if sib.State.Since.Before(*unreachableSince) {
				continue
			}
			candidates = append(candidates, sib)
		}
	})
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		if sel == instance.OldestFirst {
			return candidates[i].State.Since.Before(candidates[j].State.Since)
		}
		return candidates[i].State.Since.After(candidates[j].State.Since)
	})

	victim := candidates[0]
	t.logger.Info().
		Str("run_spec_id", runSpecID.String()).
		Str("reobserved_instance_id", reobservedID.String()).
		Str("victim_instance_id", victim.ID.String()).
		Msg("killing replacement instance after unreachable re-observation")
	if err := t.replacementKiller.KillInstance(context.Background(), victim.ID.String(), "unreachable instance reobserved"); err != nil {
		t.logger.Error().Err(err).Str("instance_id", victim.ID.String()).Msg("failed to kill replacement instance after re-observation")
	}
}

func (t *Tracker) applyMarkUnreachableInactive(o instance.MarkUnreachableInactive) instance.UpdateEffect {
	inst := t.findByID(pathid.Path(o.InstanceID))
	if inst == nil {
		return instance.Noop()
	}
	if inst.State.Condition != instance.Unreachable {
		return instance.Noop()
	}
	old := cloneInstance(inst)
	inst.State.Condition = instance.UnreachableInactive
	inst.State.Since = o.Now

	if err := storage.PutInstance(t.repo, inst); err != nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: persisting instance: %v", err))
	}
	t.bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: inst.RunSpecID.String(), InstanceID: inst.ID.String()})
	return instance.Updated(old, inst, instance.Event{Name: "instance_unreachable_inactive"})
}

func (t *Tracker) applyForceExpunge(instanceID, reason string) instance.UpdateEffect {
	inst := t.findByID(pathid.Path(instanceID))
	if inst == nil {
		return instance.Noop()
	}
	old := cloneInstance(inst)
	t.unindex(inst)
	if err := storage.DeleteInstance(t.repo, inst.ID); err != nil {
		return instance.FailureEffect(fmt.Sprintf("tracker: deleting instance: %v", err))
	}
	t.bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: inst.RunSpecID.String(), InstanceID: inst.ID.String(), Reason: reason})
	return instance.Expunged(old, instance.Event{Name: "instance_expunged", Data: map[string]string{"reason": reason}})
}

func (t *Tracker) findByID(id pathid.Path) *instance.Instance {
	for _, bucket := range t.instances {
		if inst, ok := bucket[id]; ok {
			return inst
		}
	}
	return nil
}

func cloneInstance(inst *instance.Instance) *instance.Instance {
	cp := *inst
	cp.Tasks = make(map[string]*instance.Task, len(inst.Tasks))
	for id, task := range inst.Tasks {
		taskCopy := *task
		cp.Tasks[id] = &taskCopy
	}
	return &cp
}
