package controller

import (
	"context"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/spec"
)

// StartController implements StartApplication (spec section 4.6.1):
// request scaleTo launches, complete when scaleTo instances satisfy
// the readiness decision rule.
type StartController struct {
	base
	readinessTracker

	app     *spec.AppSpec
	scaleTo int
	queue   LaunchRequester
}

// NewStartController creates a start-application controller.
func NewStartController(app *spec.AppSpec, scaleTo int, bus *events.Bus, instances InstanceSource, health HealthSource, queue LaunchRequester) *StartController {
	c := &StartController{
		base:             newBase(bus),
		readinessTracker: newReadinessTracker(app, instances, health),
		app:              app,
		scaleTo:          scaleTo,
		queue:            queue,
	}
	c.onInstanceReady = c.handleInstanceReady
	c.onInstanceTerminated = c.handleInstanceTerminated
	return c
}

// Run drives the controller until scaleTo instances are ready, the
// context is cancelled, or Shutdown is called.
func (c *StartController) Run(ctx context.Context) {
	c.queue.Add(c.app, c.scaleTo)

	for {
		select {
		case e, ok := <-c.sub:
			if !ok {
				return
			}
			c.handleEvent(e)
			if c.readyCount() >= c.scaleTo {
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

func (c *StartController) readyCount() int {
	n := 0
	for _, ready := range c.ready {
		if ready {
			n++
		}
	}
	return n
}

func (c *StartController) handleInstanceReady(instanceID string) {}

// handleInstanceTerminated reflects the loss back into the queue: the
// queue naturally re-launches to maintain demand (spec section 4.6.1),
// so the controller simply re-requests one launch for the lost slot.
func (c *StartController) handleInstanceTerminated(instanceID string) {
	c.queue.Add(c.app, 1)
}
