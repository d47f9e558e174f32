// Package controller implements the Deployment Step Controllers (spec
// section 4.6): one controller per in-flight step action, driving the
// Launch Queue and the external kill service while observing tracker
// and health events. Each controller is an isolated ordered event
// consumer (spec section 5) completing exactly once, successfully or
// with a cancellation reason.
package controller

import (
	"context"
	"time"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
)

// shutdownGrace is not referenced by any controller or by the
// executor: a controller handles a Shutdown message by finishing at
// once with a cancellation reason, and no timer terminates a
// controller that has not yet handled it.
const shutdownGrace = 30 * time.Second

// InstanceSource is the subset of the Tracker every controller reads
// from.
type InstanceSource interface {
	SpecInstances(runSpecID pathid.Path) []*instance.Instance
	Instance(id pathid.Path) *instance.Instance
}

// HealthSource is the subset of the Health Engine the readiness mixin
// reads from.
type HealthSource interface {
	IsHealthy(runSpecID pathid.Path, checkIndex int, instanceID string) *bool
}

// LaunchRequester is the subset of the Launch Queue every controller
// that starts instances drives (spec section 4.5's add/resetDelay).
type LaunchRequester interface {
	Add(app *spec.AppSpec, count int)
	ResetDelay(runSpecID pathid.Path, backoff spec.BackoffStrategy)
}

// KillService is the external kill-service collaborator (spec section
// 6); a controller's kill completes when the terminal status update is
// acknowledged.
type KillService = offers.KillService

// Result is a step controller's completion outcome, returned on its
// Done channel exactly once.
type Result struct {
	Cancelled bool
	Reason    string
	Err       error
}

// Controller is the common shape every step action satisfies: it runs
// to completion or until Shutdown is called, and reports its outcome
// on Done.
type Controller interface {
	Run(ctx context.Context)
	Shutdown(reason string)
	Done() <-chan Result
}

// base holds the fields every controller embeds: its bus
// subscription, completion channel, and shutdown plumbing. Controllers
// call base.finish exactly once.
type base struct {
	bus      *events.Bus
	sub      events.Subscriber
	done     chan Result
	finished bool

	shutdownCh chan string
}

func newBase(bus *events.Bus) base {
	return base{
		bus:        bus,
		sub:        bus.Subscribe(),
		done:       make(chan Result, 1),
		shutdownCh: make(chan string, 1),
	}
}

func (b *base) Done() <-chan Result { return b.done }

func (b *base) Shutdown(reason string) {
	select {
	case b.shutdownCh <- reason:
	default:
	}
}

func (b *base) finish(r Result) {
	if b.finished {
		return
	}
	b.finished = true
	b.bus.Unsubscribe(b.sub)
	b.done <- r
}

func pathIDOf(s string) pathid.Path {
	return pathid.Path(s)
}
