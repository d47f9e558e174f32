// Package lifecycle implements the Instance Lifecycle State Machine's
// time-driven half (spec glossary, section 4.2/4.3): the periodic
// policy that ages Unreachable instances into UnreachableInactive and
// then expunges them, and that times out reservations that are never
// launched against.
package lifecycle

import (
	"time"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/rs/zerolog"
)

// InstanceSource is the subset of the Tracker the policy loop reads
// from.
type InstanceSource interface {
	InstancesBySpec() map[pathid.Path][]*instance.Instance
}

// Processor is the subset of the Tracker the policy loop writes
// through; mutation always goes through the Tracker's single-writer
// Process method (spec section 4.2).
type Processor interface {
	Process(op instance.UpdateOp) instance.UpdateEffect
}

// ResidencyLookup resolves a run-spec's reservation escalation
// timeout, nil if the run-spec is not resident or unknown.
type ResidencyLookup func(runSpecID pathid.Path) *time.Duration

// Policy runs the reconciliation ticker: a single goroutine that scans
// every tracked instance each tick and applies the unreachable-aging
// and reservation-timeout rules, grounded on the teacher's
// reconcile-loop shape.
type Policy struct {
	source   InstanceSource
	tracker  Processor
	residency ResidencyLookup
	logger   zerolog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewPolicy constructs a lifecycle policy scanning source every
// interval and applying mutations through tracker. residency may be
// nil, in which case reservation timeouts are never enforced.
func NewPolicy(source InstanceSource, tracker Processor, residency ResidencyLookup, interval time.Duration) *Policy {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Policy{
		source:    source,
		tracker:   tracker,
		residency: residency,
		logger:    log.WithComponent("lifecycle"),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the policy's ticker loop.
func (p *Policy) Start() {
	go p.run()
}

// Stop halts the policy's ticker loop.
func (p *Policy) Stop() {
	close(p.stopCh)
}

func (p *Policy) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(time.Now())
		case <-p.stopCh:
			return
		}
	}
}

func (p *Policy) tick(now time.Time) {
	for runSpecID, instances := range p.source.InstancesBySpec() {
		for _, inst := range instances {
			p.applyUnreachablePolicy(inst, now)
			p.applyReservationTimeout(runSpecID, inst, now)
		}
	}
}

func (p *Policy) applyUnreachablePolicy(inst *instance.Instance, now time.Time) {
	if inst.State.UnreachableSince == nil {
		return
	}
	elapsed := now.Sub(*inst.State.UnreachableSince)

	switch inst.State.Condition {
	case instance.Unreachable:
		if elapsed >= inst.UnreachableStrategy.TimeUntilInactive {
			p.tracker.Process(instance.MarkUnreachableInactive{InstanceID: inst.ID.String(), Now: now})
		}
	case instance.UnreachableInactive:
		if elapsed >= inst.UnreachableStrategy.TimeUntilExpunge {
			p.tracker.Process(instance.ForceExpunge{InstanceID: inst.ID.String(), Reason: "unreachable expunge timeout"})
		}
	}
}

func (p *Policy) applyReservationTimeout(runSpecID pathid.Path, inst *instance.Instance, now time.Time) {
	if p.residency == nil {
		return
	}
	timeout := p.residency(runSpecID)
	if timeout == nil {
		return
	}
	for _, task := range inst.Tasks {
		if task.Kind != instance.TaskReserved {
			continue
		}
		if now.Sub(task.Status.StagedAt) >= *timeout {
			p.tracker.Process(instance.ReservationTimeout{InstanceID: inst.ID.String()})
			return
		}
	}
}
