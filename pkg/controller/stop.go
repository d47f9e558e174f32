package controller

import (
	"context"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
)

// QueuePurger is the subset of the Launch Queue StopController drives.
type QueuePurger interface {
	Purge(runSpecID pathid.Path)
}

// StopController implements StopApplication (spec section 4.6.4):
// kill all instances and remove the run-spec from the Launch Queue.
type StopController struct {
	base

	app       *spec.AppSpec
	instances InstanceSource
	killer    KillService
	queue     QueuePurger
}

// NewStopController creates a stop-application controller.
func NewStopController(app *spec.AppSpec, bus *events.Bus, instances InstanceSource, killer KillService, queue QueuePurger) *StopController {
	return &StopController{
		base:      newBase(bus),
		app:       app,
		instances: instances,
		killer:    killer,
		queue:     queue,
	}
}

// Run kills every instance of the run-spec, purges its launch
// queue state, and completes once every instance is gone.
func (c *StopController) Run(ctx context.Context) {
	c.queue.Purge(c.app.ID())

	var ids []string
	for _, inst := range c.instances.SpecInstances(c.app.ID()) {
		ids = append(ids, inst.ID.String())
	}
	if len(ids) == 0 {
		c.finish(Result{})
		return
	}

	killErr := c.killer.KillInstances(ctx, ids, "stop application")

	if len(c.instances.SpecInstances(c.app.ID())) == 0 {
		c.finish(Result{Err: killErr})
		return
	}

	for {
		select {
		case e, ok := <-c.sub:
			if !ok {
				return
			}
			if e.RunSpecID != c.app.ID().String() {
				continue
			}
			if len(c.instances.SpecInstances(c.app.ID())) == 0 {
				c.finish(Result{Err: killErr})
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
