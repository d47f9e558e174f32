package deploy

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/helmsman/pkg/controller"
	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/launchqueue"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/rs/zerolog"
)

// ErrStepFailed is returned by Execute when any action within a step
// fails or is cancelled.
var ErrStepFailed = errors.New("deploy: step failed")

// Executor sequentially drives a Plan's steps, spawning one controller
// per action and waiting for the whole step to complete before moving
// on (spec section 4.7's "Executor").
type Executor struct {
	bus       *events.Bus
	instances controller.InstanceSource
	health    controller.HealthSource
	queue     *launchqueue.Queue
	killer    controller.KillService
	planner   *Planner
	logger    zerolog.Logger

	mu      sync.Mutex
	live    map[string]controller.Controller
	current *Plan
}

// NewExecutor creates an executor wired to the collaborators every
// controller needs.
func NewExecutor(bus *events.Bus, instances controller.InstanceSource, health controller.HealthSource, q *launchqueue.Queue, killer controller.KillService) *Executor {
	return &Executor{
		bus:       bus,
		instances: instances,
		health:    health,
		queue:     q,
		killer:    killer,
		planner:   NewPlanner(),
		logger:    log.WithComponent("deploy-executor"),
		live:      make(map[string]controller.Controller),
	}
}

// Execute drives plan to completion or the first step failure. On
// failure it returns ErrStepFailed after publishing
// DeploymentStepFailure/DeploymentFailed; the caller decides whether
// to roll back (spec section 4.7's Cancel semantics are driven
// explicitly via Cancel, not implicitly on step failure, except that a
// failed step always aborts the remaining steps of this plan).
func (e *Executor) Execute(ctx context.Context, plan *Plan) error {
	e.mu.Lock()
	e.current = plan
	e.mu.Unlock()

	timer := metrics.NewTimer()
	e.bus.Publish(events.Event{Type: events.DeploymentInfo, PlanID: plan.ID})

	for stepIdx, step := range plan.Steps {
		if len(step.Actions) == 0 {
			continue
		}
		if err := e.runStep(ctx, plan, stepIdx, step); err != nil {
			e.bus.Publish(events.Event{Type: events.DeploymentFailed, PlanID: plan.ID, StepIndex: stepIdx})
			metrics.DeploymentsTotal.WithLabelValues("failed").Inc()
			timer.ObserveDuration(metrics.DeploymentDuration)
			return err
		}
	}

	e.bus.Publish(events.Event{Type: events.DeploymentSuccess, PlanID: plan.ID})
	metrics.DeploymentsTotal.WithLabelValues("success").Inc()
	timer.ObserveDuration(metrics.DeploymentDuration)
	return nil
}

func (e *Executor) runStep(ctx context.Context, plan *Plan, stepIdx int, step Step) error {
	type outcome struct {
		runSpecID string
		result    controller.Result
	}
	results := make(chan outcome, len(step.Actions))

	for _, action := range step.Actions {
		c := e.buildController(action)
		e.mu.Lock()
		e.live[action.RunSpecID.String()] = c
		e.mu.Unlock()

		go c.Run(ctx)
		action := action
		go func() {
			res := <-c.Done()
			e.mu.Lock()
			delete(e.live, action.RunSpecID.String())
			e.mu.Unlock()
			results <- outcome{runSpecID: action.RunSpecID.String(), result: res}
		}()
	}

	failed := false
	for range step.Actions {
		o := <-results
		if o.result.Err != nil || o.result.Cancelled {
			failed = true
		}
	}

	if failed {
		e.bus.Publish(events.Event{Type: events.DeploymentStepFailure, PlanID: plan.ID, StepIndex: stepIdx})
		metrics.DeploymentStepsTotal.WithLabelValues("failed").Inc()
		return ErrStepFailed
	}
	e.bus.Publish(events.Event{Type: events.DeploymentStepSuccess, PlanID: plan.ID, StepIndex: stepIdx})
	metrics.DeploymentStepsTotal.WithLabelValues("success").Inc()
	return nil
}

func (e *Executor) buildController(action Action) controller.Controller {
	switch action.Kind {
	case ActionStart:
		return controller.NewStartController(action.App, action.ScaleTo, e.bus, e.instances, e.health, e.queue)
	case ActionScale:
		return controller.NewScaleController(action.App, action.ScaleTo, action.ToKill, e.bus, e.instances, e.health, e.queue, e.killer)
	case ActionRestart:
		return controller.NewRestartController(action.App, e.bus, e.instances, e.health, e.queue, e.killer)
	case ActionStop:
		return controller.NewStopController(action.App, e.bus, e.instances, e.killer, e.queue)
	case ActionResolveArtifacts:
		return controller.NewResolveArtifactsController(action.Artifacts, e.bus, nil)
	default:
		panic("deploy: unknown action kind " + string(action.Kind))
	}
}

// Cancel aborts the in-flight plan. With force=false it rolls back:
// synthesize a plan from the current target back to the original root
// and execute it, publishing deployment_failed for the cancelled plan
// then deployment_success for the rollback. With force=true it sends
// Shutdown to every live controller and does not roll back (spec
// section 4.7's Cancel semantics).
func (e *Executor) Cancel(ctx context.Context, force bool) error {
	e.mu.Lock()
	plan := e.current
	live := make([]controller.Controller, 0, len(e.live))
	for _, c := range e.live {
		live = append(live, c)
	}
	e.mu.Unlock()

	if plan == nil {
		return nil
	}

	for _, c := range live {
		c.Shutdown("deployment cancelled")
	}

	if force {
		e.bus.Publish(events.Event{Type: events.DeploymentFailed, PlanID: plan.ID})
		return nil
	}

	e.bus.Publish(events.Event{Type: events.DeploymentFailed, PlanID: plan.ID})
	rollback, err := e.planner.Plan(plan.ID+"-rollback", plan.Version, plan.TargetRoot, plan.OriginalRoot)
	if err != nil {
		return err
	}
	return e.Execute(ctx, rollback)
}
