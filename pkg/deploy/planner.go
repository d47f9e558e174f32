package deploy

import (
	"time"

	"github.com/cuemby/helmsman/pkg/controller"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
)

// Planner computes deployment plans from a pair of group trees.
type Planner struct{}

// NewPlanner creates a planner. It carries no state: every Plan call
// is a pure function of (original, target).
func NewPlanner() *Planner { return &Planner{} }

// Plan diffs original against target and emits an ordered Plan, or
// spec.ErrCyclicDependencies if target's dependency graph is not a DAG
// (spec section 4.7 rule 2). Pod run-specs are diffed for
// presence/absence only; the Start/Scale/Restart step controllers this
// deployment core implements act on Application run-specs, matching
// this specification's chosen scope (spec section "Non-goals" on
// resident-pod rollout semantics is silent, so pod run-specs produce no
// actions here, not even a Stop on removal).
func (p *Planner) Plan(id string, now time.Time, original, target *spec.Group) (*Plan, error) {
	layers, err := target.TopoLayers()
	if err != nil {
		return nil, err
	}

	originalSpecs := original.Transitive()
	targetSpecs := target.Transitive()

	resolveStep := p.resolveArtifactsStep(originalSpecs, targetSpecs)

	plan := &Plan{ID: id, Version: now, OriginalRoot: original, TargetRoot: target}
	if len(resolveStep.Actions) > 0 {
		plan.Steps = append(plan.Steps, resolveStep)
	}

	// Removed specs are not present in target's dependency graph, so
	// they never appear in a topological layer; fold their Stop
	// actions into the very first layer's step (they have no
	// dependents left to order against).
	removedStep := p.removedStep(originalSpecs, targetSpecs)

	firstLayerEmitted := false
	for _, layer := range layers {
		step := p.stepForLayer(layer, originalSpecs, targetSpecs)
		if !firstLayerEmitted {
			step.Actions = append(removedStep.Actions, step.Actions...)
			firstLayerEmitted = true
		}
		if len(step.Actions) > 0 {
			plan.Steps = append(plan.Steps, step)
		}
	}
	if !firstLayerEmitted && len(removedStep.Actions) > 0 {
		plan.Steps = append(plan.Steps, removedStep)
	}

	return plan, nil
}

func (p *Planner) resolveArtifactsStep(originalSpecs, targetSpecs map[pathid.Path]spec.RunSpec) Step {
	var step Step
	for id, rs := range targetSpecs {
		app, ok := rs.(*spec.AppSpec)
		if !ok {
			continue
		}
		origRS, existed := originalSpecs[id]
		if !existed {
			continue // newly-introduced specs launch directly; nothing to pre-resolve against
		}
		origApp, ok := origRS.(*spec.AppSpec)
		if !ok || len(app.Artifacts) == 0 {
			continue
		}
		if origApp.Image == app.Image && artifactsEqual(origApp.Artifacts, app.Artifacts) {
			continue
		}
		var artifacts []controller.Artifact
		for _, a := range app.Artifacts {
			artifacts = append(artifacts, controller.Artifact{URL: a.URL, LocalPath: a.Dest})
		}
		step.Actions = append(step.Actions, Action{Kind: ActionResolveArtifacts, RunSpecID: id, App: app, Artifacts: artifacts})
	}
	return step
}

func artifactsEqual(a, b []spec.ArtifactRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p *Planner) removedStep(originalSpecs, targetSpecs map[pathid.Path]spec.RunSpec) Step {
	var step Step
	for id, rs := range originalSpecs {
		if _, stillPresent := targetSpecs[id]; stillPresent {
			continue
		}
		app, ok := rs.(*spec.AppSpec)
		if !ok {
			continue
		}
		step.Actions = append(step.Actions, Action{Kind: ActionStop, RunSpecID: id, App: app})
	}
	return step
}

// stepForLayer classifies every run-spec in a single topological layer
// (spec section 4.7 rule 3): Start precedes Scale-up; Scale-down
// precedes Restart.
func (p *Planner) stepForLayer(layer []pathid.Path, originalSpecs, targetSpecs map[pathid.Path]spec.RunSpec) Step {
	var starts, scaleUps, scaleDowns, restarts []Action

	for _, id := range layer {
		targetRS, ok := targetSpecs[id]
		if !ok {
			continue
		}
		targetApp, ok := targetRS.(*spec.AppSpec)
		if !ok {
			continue // pod run-specs: presence-only diff, no action emitted here
		}

		origRS, existed := originalSpecs[id]
		if !existed {
			starts = append(starts, Action{Kind: ActionStart, RunSpecID: id, App: targetApp, ScaleTo: targetApp.DesiredInstances()})
			continue
		}
		origApp, ok := origRS.(*spec.AppSpec)
		if !ok {
			starts = append(starts, Action{Kind: ActionStart, RunSpecID: id, App: targetApp, ScaleTo: targetApp.DesiredInstances()})
			continue
		}

		configChanged := !origApp.EquivalentConfig(targetApp)
		scaleDelta := targetApp.DesiredInstances() - origApp.DesiredInstances()

		if configChanged {
			// A config change always restarts, independent of any
			// simultaneous scaling change (spec section 4.7 rule 4);
			// the restart controller itself reads the target instance
			// count, so no separate scale action is needed.
			restarts = append(restarts, Action{Kind: ActionRestart, RunSpecID: id, App: targetApp})
			continue
		}

		switch {
		case scaleDelta > 0:
			scaleUps = append(scaleUps, Action{Kind: ActionScale, RunSpecID: id, App: targetApp, ScaleTo: targetApp.DesiredInstances()})
		case scaleDelta < 0:
			scaleDowns = append(scaleDowns, Action{Kind: ActionScale, RunSpecID: id, App: targetApp, ScaleTo: targetApp.DesiredInstances()})
		}
	}

	var step Step
	step.Actions = append(step.Actions, starts...)
	step.Actions = append(step.Actions, scaleUps...)
	step.Actions = append(step.Actions, scaleDowns...)
	step.Actions = append(step.Actions, restarts...)
	return step
}
