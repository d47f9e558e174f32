package controller

import (
	"context"
	"sort"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/spec"
)

// ScaleController implements ScaleApplication (spec section 4.6.2):
// compute the delta between current active instances and scaleTo, kill
// victims on scale-down, request launches on scale-up.
type ScaleController struct {
	base
	readinessTracker

	app       *spec.AppSpec
	scaleTo   int
	toKill    []string // caller-supplied victim instance ids, honored first
	queue     LaunchRequester
	killer    KillService
	instances InstanceSource
}

// NewScaleController creates a scale-application controller.
func NewScaleController(app *spec.AppSpec, scaleTo int, toKill []string, bus *events.Bus, instances InstanceSource, health HealthSource, queue LaunchRequester, killer KillService) *ScaleController {
	c := &ScaleController{
		base:             newBase(bus),
		readinessTracker: newReadinessTracker(app, instances, health),
		app:              app,
		scaleTo:          scaleTo,
		toKill:           toKill,
		queue:            queue,
		killer:           killer,
		instances:        instances,
	}
	return c
}

// Run computes the scale delta, issues kills/launches, and completes
// once the active instance count equals scaleTo.
func (c *ScaleController) Run(ctx context.Context) {
	active := c.activeInstances()
	delta := c.scaleTo - len(active)

	switch {
	case delta < 0:
		victims := c.selectVictims(active, -delta)
		go func() {
			_ = c.killer.KillInstances(ctx, victims, "scale down")
		}()
	case delta > 0:
		c.queue.Add(c.app, delta)
	}

	if delta == 0 {
		c.finish(Result{})
		return
	}

	for {
		select {
		case e, ok := <-c.sub:
			if !ok {
				return
			}
			c.handleEvent(e)
			if e.RunSpecID != c.app.ID().String() {
				continue
			}
			if len(c.activeInstances()) == c.scaleTo {
				c.finish(Result{})
				return
			}
		case reason := <-c.shutdownCh:
			c.finish(Result{Cancelled: true, Reason: reason})
			return
		case <-ctx.Done():
			c.finish(Result{Cancelled: true, Reason: "context cancelled"})
			return
		}
	}
}

func (c *ScaleController) activeInstances() []*instance.Instance {
	var out []*instance.Instance
	for _, inst := range c.instances.SpecInstances(c.app.ID()) {
		if inst.IsActive() {
			out = append(out, inst)
		}
	}
	return out
}

// selectVictims honors any caller-supplied toKill ids first, then fills
// the remainder per the spec's killSelection, preferring instances that
// already violate a UNIQUE/MAX_PER constraint over ones the remaining
// fleet still needs to satisfy it (spec section 4.6.2). A UNIQUE or
// MAX_PER constraint can only be broken going forward by a kill that
// leaves the fleet short a value it must keep; since removing instances
// never creates a new duplicate or exceeds a cap, the way a kill
// "breaks" either constraint is by retiring one of the few legitimate
// holders of a value while an excess duplicate of that same value
// survives. Excess holders are therefore killed first.
func (c *ScaleController) selectVictims(active []*instance.Instance, n int) []string {
	var victims []string
	remaining := make(map[string]*instance.Instance, len(active))
	for _, inst := range active {
		remaining[inst.ID.String()] = inst
	}

	for _, id := range c.toKill {
		if _, ok := remaining[id]; ok && len(victims) < n {
			victims = append(victims, id)
			delete(remaining, id)
		}
	}

	violators := constraintExcessViolators(c.app.Constraints, active)

	var rest []*instance.Instance
	for _, inst := range remaining {
		rest = append(rest, inst)
	}
	sort.Slice(rest, func(i, j int) bool {
		vi, vj := violators[rest[i].ID.String()], violators[rest[j].ID.String()]
		if vi != vj {
			return vi // constraint-violating excess instances are killed first
		}
		if c.app.KillSelect == instance.OldestFirst {
			return rest[i].State.Since.Before(rest[j].State.Since)
		}
		return rest[i].State.Since.After(rest[j].State.Since)
	})

	for _, inst := range rest {
		if len(victims) >= n {
			break
		}
		victims = append(victims, inst.ID.String())
	}
	return victims
}

// constraintExcessViolators reports, for each UNIQUE or MAX_PER
// constraint on the spec, which of active's instances are the excess
// holders of a constraint value: for UNIQUE, every holder past the
// first (oldest) one observed; for MAX_PER(n), every holder past the
// nth (oldest) one. These are the instances whose removal can only
// bring the fleet closer to satisfying the constraint, never further
// from it, so scale-down should prefer to kill them.
func constraintExcessViolators(constraints []spec.Constraint, active []*instance.Instance) map[string]bool {
	violators := make(map[string]bool)
	if len(constraints) == 0 {
		return violators
	}

	ordered := make([]*instance.Instance, len(active))
	copy(ordered, active)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].State.Since.Before(ordered[j].State.Since) })

	for _, con := range constraints {
		switch con.Kind {
		case spec.ConstraintUnique:
			seen := make(map[string]bool)
			for _, inst := range ordered {
				v := constraintAttribute(inst, con.Field)
				if seen[v] {
					violators[inst.ID.String()] = true
				} else {
					seen[v] = true
				}
			}
		case spec.ConstraintMaxPer:
			counts := make(map[string]int)
			for _, inst := range ordered {
				v := constraintAttribute(inst, con.Field)
				counts[v]++
				if counts[v] > con.N {
					violators[inst.ID.String()] = true
				}
			}
		}
	}
	return violators
}

func constraintAttribute(inst *instance.Instance, field string) string {
	if field == "hostname" {
		return inst.Agent.Host
	}
	return inst.Agent.Attributes[field]
}
