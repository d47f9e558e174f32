package controller

import (
	"context"
	"math"
	"sort"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/spec"
)

// RestartController implements RestartApplication (spec section
// 4.6.3): replaces every currently-active instance whose version does
// not match the target version, respecting the upgrade strategy's
// capacity bounds while the rollout is in flight. This is the hard
// part of the deployment core: the capacity arithmetic below,
// including its floor/ceil asymmetry and the degenerate-window special
// case, is preserved exactly as specified.
type RestartController struct {
	base
	readinessTracker

	app    *spec.AppSpec
	queue  LaunchRequester
	killer KillService

	n           int
	minHealthy  int
	maxCapacity int

	keepSet    map[string]bool // already-up-to-date instances at step start
	toKillSet  map[string]bool // old instances still to be removed
	toKillOrder []string       // FIFO of old instances not yet issued a kill

	started int
}

// NewRestartController creates a rolling-restart controller. The
// run-spec's currently-active instances are read from instances when
// Run starts.
func NewRestartController(app *spec.AppSpec, bus *events.Bus, instances InstanceSource, health HealthSource, queue LaunchRequester, killer KillService) *RestartController {
	c := &RestartController{
		base:             newBase(bus),
		readinessTracker: newReadinessTracker(app, instances, health),
		app:              app,
		queue:            queue,
		killer:           killer,
		keepSet:          make(map[string]bool),
		toKillSet:        make(map[string]bool),
	}
	c.onInstanceReady = c.handleInstanceReady
	c.onInstanceTerminated = c.handleInstanceTerminated
	return c
}

// Run partitions the current fleet, computes the restart strategy,
// and drives the event loop to completion.
func (c *RestartController) Run(ctx context.Context) {
	active := c.instances.SpecInstances(c.app.ID())

	target := c.app.Version()
	var toKill []string
	for _, inst := range active {
		if !inst.IsActive() {
			continue
		}
		if inst.RunSpecVersion.Equal(target) {
			c.keepSet[inst.ID.String()] = true
		} else {
			toKill = append(toKill, inst.ID.String())
		}
	}
	sort.Strings(toKill) // deterministic FIFO order
	for _, id := range toKill {
		c.toKillSet[id] = true
	}
	c.toKillOrder = append([]string(nil), toKill...)

	c.n = c.app.DesiredInstances()
	m := len(toKill)
	c.computeStrategy(m)
	nrToKillImmediately := maxInt(0, m-c.minHealthy)
	if c.minHealthy == c.maxCapacity && c.maxCapacity <= m {
		metrics.RestartsCapacityBubbleTotal.Inc()
		if c.app.IsResident() {
			nrToKillImmediately = m - c.minHealthy + 1
		} else {
			c.maxCapacity++
		}
	}

	// step 7: reset this spec's backoff at controller start.
	c.queue.ResetDelay(c.app.ID(), c.app.Backoff)

	// step 1: reconcile already-started instances.
	c.started = len(c.keepSet)
	for id := range c.keepSet {
		c.isReadyNow(id)
	}

	// step 2: kill nrToKillImmediately old instances up front.
	for i := 0; i < nrToKillImmediately; i++ {
		c.killNextOld(ctx)
	}

	// step 3: initial launch.
	c.relaunch()

	if c.checkCompletion() {
		return
	}

	for {
		select {
		case e, ok := <-c.sub:
			if !ok {
				return
			}
			c.handleEvent(e)
			if c.checkCompletion() {
				return
			}
		case reason := <-c.shutdownCh:
			// Do not kill launched-but-not-yet-ready instances; they
			// remain part of the next plan's input state (spec 4.6.3
			// step 9).
			c.finish(Result{Cancelled: true, Reason: reason})
			return
		case <-ctx.Done():
			c.finish(Result{Cancelled: true, Reason: "context cancelled"})
			return
		}
	}
}

// computeStrategy sets minHealthy and maxCapacity from the upgrade
// strategy's capacity ratios.
func (c *RestartController) computeStrategy(m int) {
	n := float64(c.n)
	c.minHealthy = int(math.Ceil(n * c.app.Upgrade.MinimumHealthCapacity))
	c.maxCapacity = int(math.Floor(n * (1 + c.app.Upgrade.MaximumOverCapacity)))
}

func (c *RestartController) checkCompletion() bool {
	if len(c.toKillSet) > 0 {
		return false
	}
	if c.readyCount() < c.n {
		return false
	}
	c.finish(Result{})
	return true
}

func (c *RestartController) readyCount() int {
	n := 0
	for _, ready := range c.ready {
		if ready {
			n++
		}
	}
	return n
}

func (c *RestartController) relaunch() {
	oldRemaining := len(c.toKillSet)
	leftCapacity := maxInt(0, c.maxCapacity-oldRemaining-c.started)
	notYetStarted := maxInt(0, c.n-c.started)
	launchNow := minInt(notYetStarted, leftCapacity)
	if launchNow > 0 {
		c.queue.Add(c.app, launchNow)
		c.started += launchNow
	}
}

func (c *RestartController) killNextOld(ctx context.Context) {
	if len(c.toKillOrder) == 0 {
		return
	}
	id := c.toKillOrder[0]
	c.toKillOrder = c.toKillOrder[1:]
	go func() {
		_ = c.killer.KillInstance(ctx, id, "rolling restart")
	}()
}

// classify reports whether instanceID is one of the original
// to-kill set (old) or was launched during this step (new); an
// already-up-to-date instance from step start is neither.
func (c *RestartController) classify(instanceID string) (isOld, isNew bool) {
	if c.toKillSet[instanceID] {
		return true, false
	}
	if c.keepSet[instanceID] {
		return false, false
	}
	return false, true
}

// handleInstanceReady implements step 4: on a new instance becoming
// ready, kill one more old instance and re-evaluate capacity.
func (c *RestartController) handleInstanceReady(instanceID string) {
	_, isNew := c.classify(instanceID)
	if isNew {
		c.killNextOld(context.Background())
	}
	c.relaunch()
}

// handleInstanceTerminated implements steps 5 and 6: a terminated new
// instance decrements started demand; a terminated old instance
// retires from the to-kill set.
func (c *RestartController) handleInstanceTerminated(instanceID string) {
	isOld, isNew := c.classify(instanceID)
	switch {
	case isOld:
		delete(c.toKillSet, instanceID)
	case isNew:
		c.started = maxInt(0, c.started-1)
	}
	c.relaunch()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
